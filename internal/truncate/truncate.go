// File: internal/truncate/truncate.go

// Package truncate shrinks texts to fit a token budget. Left truncation keeps
// the tail (the most recent, most specific context); right truncation keeps
// the head (the early context of a query carries the most signal).
package truncate

import "github.com/webpilot-ai/webpilot/api/schemas"

// chunkRunes is the initial slice removed per iteration. The chunk doubles
// whenever a removal fails to shrink the token count, so every iteration of
// the outer loop strictly decreases it and the loop terminates for any
// finite input.
const chunkRunes = 64

// Left removes content from the front of text until its token count is at or
// below limit. The second return reports whether anything was removed.
func Left(tok schemas.Tokenizer, text string, limit int) (string, bool) {
	if limit <= 0 {
		return "", text != ""
	}
	truncated := false
	count := tok.Count(text)
	chunk := chunkRunes
	for count > limit {
		runes := []rune(text)
		if chunk >= len(runes) {
			return "", true
		}
		text = string(runes[chunk:])
		truncated = true

		next := tok.Count(text)
		if next >= count {
			chunk *= 2
		}
		count = next
	}
	return text, truncated
}

// Right removes content from the end of text until its token count is at or
// below limit.
func Right(tok schemas.Tokenizer, text string, limit int) (string, bool) {
	if limit <= 0 {
		return "", text != ""
	}
	truncated := false
	count := tok.Count(text)
	chunk := chunkRunes
	for count > limit {
		runes := []rune(text)
		if chunk >= len(runes) {
			return "", true
		}
		text = string(runes[:len(runes)-chunk])
		truncated = true

		next := tok.Count(text)
		if next >= count {
			chunk *= 2
		}
		count = next
	}
	return text, truncated
}
