// File: api/schemas/schemas.go
package schemas

import "strings"

// DialogueState enumerates the phases of one objective's dialogue. A session
// is in exactly one state at a time; Unset means no step has been taken yet
// for the current turn.
type DialogueState string

const (
	StateUnset             DialogueState = "UNSET"
	StatePrioritize        DialogueState = "PRIORITIZE"
	StateAction            DialogueState = "ACTION"
	StateCommand           DialogueState = "COMMAND"
	StateAwaitConfirmation DialogueState = "AWAIT_CONFIRMATION"
	StateDone              DialogueState = "DONE"
	StateError             DialogueState = "ERROR"
)

// Terminal reports whether no further steps are accepted in this state.
func (s DialogueState) Terminal() bool {
	return s == StateDone || s == StateError
}

// Command is a concrete browser instruction, e.g. "click [7]" or
// "type [3] hello world".
type Command string

// Prompt is a human-readable question sent back to the user when the
// controller needs disambiguation or confirmation.
type Prompt string

// ResultKind discriminates the two possible outcomes of a dialogue step.
type ResultKind string

const (
	ResultCommand ResultKind = "COMMAND"
	ResultPrompt  ResultKind = "PROMPT"
)

// StepResult is the tagged union emitted by the dialogue state machine: either
// a Command to execute in the browser or a Prompt to relay to the human. The
// Kind field is the explicit discriminant; exactly one payload field is set.
type StepResult struct {
	Kind    ResultKind
	Command Command
	Prompt  Prompt
}

// CommandResult wraps a command as a StepResult.
func CommandResult(cmd Command) StepResult {
	return StepResult{Kind: ResultCommand, Command: cmd}
}

// PromptResult wraps a question as a StepResult.
func PromptResult(p Prompt) StepResult {
	return StepResult{Kind: ResultPrompt, Prompt: p}
}

// PageElement is an opaque element descriptor produced by the crawler. The
// descriptor starts with a type tag ("link", "button", "input", ...), followed
// by a bracketed identifier and the element's display text, e.g.
//
//	link [12] Contact us
//	input [3] Search query
type PageElement string

// Element type tags. Anything tagged clickable can receive a click command;
// anything tagged typeable can receive a type command.
var (
	ClickableTags = []string{"link", "button"}
	TypeableTags  = []string{"input", "textarea", "select"}
)

func hasTag(e PageElement, tags []string) bool {
	for _, t := range tags {
		if strings.HasPrefix(string(e), t) {
			return true
		}
	}
	return false
}

// IsClickable reports whether the element accepts a click command.
func (e PageElement) IsClickable() bool { return hasTag(e, ClickableTags) }

// IsTypeable reports whether the element accepts a type command.
func (e PageElement) IsTypeable() bool { return hasTag(e, TypeableTags) }

// Interactable reports whether the element accepts any command at all.
// Crawlers may emit purely informational elements (e.g. "text ..."); those are
// ranked for context but never chosen as command targets.
func (e PageElement) Interactable() bool { return e.IsClickable() || e.IsTypeable() }

// Moment captures one decision point of an episode: the page the controller
// saw, the command it issued and the full causal history that led there.
// PreviousCommands is append-only and never reordered.
type Moment struct {
	URL              string
	Elements         []PageElement
	Command          Command
	PreviousCommands []string
}

// Example is a persisted, embedded Moment used as few-shot guidance for
// future sessions. The Text field is the canonical state text and doubles as
// the record's uniqueness key. Examples are created only on explicit success
// and never mutated or deleted afterwards.
type Example struct {
	Text             string    `json:"example"`
	Embedding        []float64 `json:"embedding"`
	URL              string    `json:"url"`
	Elements         []string  `json:"elements"`
	Command          string    `json:"command"`
	PreviousCommands []string  `json:"previous_commands"`
	Objective        string    `json:"objective"`
}

// Recognized user-feedback keys, in the column order of the tally table.
var TallyKeys = []string{"y", "n", "s", "command", "success", "cancel"}
