// File: internal/controller/templates.go
package controller

// Prompt templates for the option scorer. Placeholders use the {key} syntax
// of scorer.RenderTemplate. {examples} is the retrieved few-shot block (may
// be empty), {state} the canonical state text of the current decision point.

// actionTemplate compares the likelihood of "click" vs "type" as the next
// step.
const actionTemplate = `Given the state of a web page and an objective, predict the next browser command.
A command is either "click" on a clickable element or "type" into a typeable element.

{examples}{state}
Next command: {action}`

// elementTemplate compares candidate target elements once the action is
// fixed.
const elementTemplate = `Given the state of a web page and an objective, predict the next browser command.
A command names the element to interact with by its type and bracketed id.

{examples}{state}
Next command: {action} {element}`

// generateTemplate is the prefix for sampling the free-text payload of a
// type command. The model continues after the element reference.
const generateTemplate = `Given the state of a web page and an objective, predict the next browser command.
A type command ends with the text to enter into the element.

{examples}{state}
Next command: type {element} `

// HelpMessage is returned verbatim when the user asks for help.
const HelpMessage = `Welcome to WebPilot!

Give it an objective and it will operate a browser to carry it out, for example:
- book me a table for 2 at bar isabel next wednesday at 7pm
- i need a flight from SF to London on Oct 15th nonstop

WebPilot learns by demonstration, so guide it and correct it when it goes astray:
- y: confirm the suggested command
- n: reject the suggestion and see the alternatives
- goto <url>: jump to a specific page
- show: print the elements the model currently sees
- success: the objective is complete; save this episode so future sessions learn from it
- cancel: discard the session without saving
- anything else is run directly as a browser command, e.g. "click link [3]"`
