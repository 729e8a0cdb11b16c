// File: api/schemas/state.go
package schemas

import "strings"

// ConstructState renders the canonical state text for one decision point.
// It is the uniqueness key of the example store and the shared context block
// of every scoring prompt, so its format must stay byte-stable.
func ConstructState(objective, url string, elements []PageElement, previousCommands []string) string {
	var b strings.Builder
	b.WriteString("Objective: ")
	b.WriteString(objective)
	b.WriteString("\nURL: ")
	b.WriteString(url)
	b.WriteString("\nPrevious commands:")
	if len(previousCommands) == 0 {
		b.WriteString("\n- None")
	} else {
		for _, cmd := range previousCommands {
			b.WriteString("\n- ")
			b.WriteString(cmd)
		}
	}
	b.WriteString("\nElements on the page:")
	for _, e := range elements {
		b.WriteString("\n- ")
		b.WriteString(string(e))
	}
	return b.String()
}
