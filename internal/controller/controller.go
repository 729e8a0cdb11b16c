// File: internal/controller/controller.go

// Package controller is the dialogue state machine that turns a page state and
// the human's feedback into the next browser command or clarifying question.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/scorer"
)

// Sentinel outcomes of a step. They are signals, not failures: the caller is
// expected to close the session when it sees one.
var (
	// ErrObjectiveComplete is returned after the user reports success and the
	// episode has been persisted.
	ErrObjectiveComplete = errors.New("objective complete")
	// ErrSessionCancelled is returned when the user cancels; nothing is
	// persisted.
	ErrSessionCancelled = errors.New("session cancelled")
	// ErrSessionClosed is returned by any step after the session reached a
	// terminal state.
	ErrSessionClosed = errors.New("session is closed")
)

// Ranker orders candidate texts by relevance to a query.
type Ranker interface {
	Rank(ctx context.Context, query string, candidates []string, topK int) ([]string, error)
}

// OptionScorer compares prompt continuations and samples free text.
type OptionScorer interface {
	Choose(ctx context.Context, template string, options []scorer.Option, mode schemas.LikelihoodMode, topK int) ([]scorer.Scored, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ExampleStore persists successful episodes and retrieves similar ones.
type ExampleStore interface {
	Save(ctx context.Context, objective, url string, elements []schemas.PageElement, command schemas.Command, previousCommands []string) error
	Search(ctx context.Context, query string, topK int) ([]schemas.Example, error)
}

// FeedbackRecorder counts user responses per session.
type FeedbackRecorder interface {
	Record(key string)
	Flush() error
}

// candidate is one scored command proposal held while waiting for the user to
// pick.
type candidate struct {
	command schemas.Command
	score   float64
}

// Controller drives one objective through repeated decision turns. Each call
// to Step advances the machine from Unset through Prioritize and Action to
// Command, emitting either a browser command or a question for the human.
// A Controller is bound to a single session and is not safe for concurrent
// use.
type Controller struct {
	objective string
	cfg       config.ControllerConfig
	ranker    Ranker
	scorer    OptionScorer
	store     ExampleStore
	tally     FeedbackRecorder
	logger    *zap.Logger

	state            schemas.DialogueState
	moments          []schemas.Moment
	previousCommands []string

	// Working set of the current turn.
	url         string
	elements    []schemas.PageElement
	prioritized []schemas.PageElement
	action      string
	candidates  []candidate
	lastPrompt  schemas.Prompt
}

// New binds a controller to one objective.
func New(objective string, cfg config.ControllerConfig, rk Ranker, sc OptionScorer, store ExampleStore, tally FeedbackRecorder, logger *zap.Logger) *Controller {
	return &Controller{
		objective: objective,
		cfg:       cfg,
		ranker:    rk,
		scorer:    sc,
		store:     store,
		tally:     tally,
		logger:    logger.Named("controller"),
		state:     schemas.StateUnset,
	}
}

// State returns the current dialogue state.
func (c *Controller) State() schemas.DialogueState { return c.state }

// Objective returns the objective this session is pursuing.
func (c *Controller) Objective() string { return c.objective }

// Step advances the dialogue. url and elements describe the page as crawled
// for this turn; response is the user's reply to the previous result, empty on
// the first call of a turn. The machine always passes through Prioritize and
// Action before emitting anything, so a single call carries a fresh turn all
// the way to a Command or a Prompt.
func (c *Controller) Step(ctx context.Context, url string, elements []schemas.PageElement, response string) (schemas.StepResult, error) {
	if c.state.Terminal() {
		return schemas.StepResult{}, ErrSessionClosed
	}

	response = strings.TrimSpace(response)
	if response != "" {
		c.tally.Record(response)
	}

	// cancel and success short-circuit every state. Cancel in particular must
	// not trigger any further provider calls.
	switch response {
	case "cancel":
		c.Cancel()
		return schemas.StepResult{}, ErrSessionCancelled
	case "success", "s":
		if err := c.Success(ctx); err != nil {
			return schemas.StepResult{}, err
		}
		return schemas.StepResult{}, ErrObjectiveComplete
	}

	if c.state == schemas.StateAwaitConfirmation {
		c.url = url
		c.elements = elements
		return c.resolveConfirmation(ctx, response)
	}

	c.url = url
	c.elements = elements

	if response != "" && response != "y" && response != "n" {
		// A free-form reply outside a confirmation is a direct command
		// override; run it without consulting the model.
		capped := elements
		if c.cfg.MaxElements > 0 && len(capped) > c.cfg.MaxElements {
			capped = capped[:c.cfg.MaxElements]
		}
		c.prioritized = capped
		return c.commit(schemas.Command(response)), nil
	}
	c.action = ""
	c.candidates = nil

	for {
		switch c.state {
		case schemas.StateUnset:
			if err := c.prioritize(ctx); err != nil {
				return c.fail(err)
			}
			c.state = schemas.StatePrioritize

		case schemas.StatePrioritize:
			if err := c.pickAction(ctx); err != nil {
				return c.fail(err)
			}
			c.state = schemas.StateAction

		case schemas.StateAction:
			result, err := c.pickElement(ctx)
			if err != nil {
				return c.fail(err)
			}
			if result != nil {
				// Not enough applicable targets; ask the human instead.
				c.state = schemas.StateAwaitConfirmation
				c.lastPrompt = result.Prompt
				return *result, nil
			}
			c.state = schemas.StateCommand

		case schemas.StateCommand:
			return c.emit(ctx)

		default:
			return schemas.StepResult{}, fmt.Errorf("unexpected dialogue state %q", c.state)
		}
	}
}

// Success persists every moment of the episode in order, flushes the response
// tally and closes the session. Persisting is idempotent: replayed moments
// dedup inside the store.
func (c *Controller) Success(ctx context.Context) error {
	for _, m := range c.moments {
		if err := c.store.Save(ctx, c.objective, m.URL, m.Elements, m.Command, m.PreviousCommands); err != nil {
			return fmt.Errorf("failed to save episode moment: %w", err)
		}
	}
	if err := c.tally.Flush(); err != nil {
		return fmt.Errorf("failed to flush response tally: %w", err)
	}
	c.logger.Info("Objective complete, episode saved",
		zap.String("objective", c.objective), zap.Int("moments", len(c.moments)))
	c.moments = nil
	c.state = schemas.StateDone
	return nil
}

// Cancel discards the episode without persisting anything and closes the
// session.
func (c *Controller) Cancel() {
	c.logger.Info("Session cancelled, episode discarded",
		zap.String("objective", c.objective), zap.Int("moments", len(c.moments)))
	c.moments = nil
	c.state = schemas.StateDone
}

// Elements returns the prioritized elements of the current turn, for display.
func (c *Controller) Elements() []schemas.PageElement {
	out := make([]schemas.PageElement, len(c.prioritized))
	copy(out, c.prioritized)
	return out
}

// prioritize ranks the page elements by relevance to the objective and caps
// them to the element budget.
func (c *Controller) prioritize(ctx context.Context) error {
	query := schemas.ConstructState(c.objective, c.url, nil, c.previousCommands)

	texts := make([]string, len(c.elements))
	for i, e := range c.elements {
		texts[i] = string(e)
	}
	ranked, err := c.ranker.Rank(ctx, query, texts, c.cfg.MaxElements)
	if err != nil {
		return fmt.Errorf("failed to prioritize page elements: %w", err)
	}

	c.prioritized = make([]schemas.PageElement, len(ranked))
	for i, t := range ranked {
		c.prioritized[i] = schemas.PageElement(t)
	}
	c.logger.Debug("Page elements prioritized",
		zap.Int("total", len(c.elements)), zap.Int("kept", len(c.prioritized)))
	return nil
}

// pickAction scores click vs type against the current state.
func (c *Controller) pickAction(ctx context.Context) error {
	template, err := c.renderContext(ctx, actionTemplate)
	if err != nil {
		return err
	}

	options := []scorer.Option{{"action": "click"}, {"action": "type"}}
	scored, err := c.scorer.Choose(ctx, template, options, schemas.LikelihoodAll, len(options))
	if err != nil {
		return fmt.Errorf("failed to score actions: %w", err)
	}
	if len(scored) == 0 {
		return fmt.Errorf("no action could be scored")
	}

	c.action = scored[0].Option["action"]
	c.logger.Debug("Action chosen", zap.String("action", c.action), zap.Float64("score", scored[0].Score))
	return nil
}

// pickElement scores the applicable targets for the chosen action and builds
// the candidate command list. It returns a non-nil prompt result when there is
// nothing to act on.
func (c *Controller) pickElement(ctx context.Context) (*schemas.StepResult, error) {
	applicable := c.applicableElements()
	if len(applicable) == 0 {
		p := schemas.PromptResult(schemas.Prompt(fmt.Sprintf(
			"I could not find anything to %s on this page. Type a command directly, or reply cancel.", c.action)))
		c.logger.Warn("No applicable elements for action", zap.String("action", c.action))
		return &p, nil
	}

	template, err := c.renderContext(ctx, elementTemplate)
	if err != nil {
		return nil, err
	}
	template = strings.ReplaceAll(template, "{action}", c.action)

	options := make([]scorer.Option, len(applicable))
	for i, e := range applicable {
		options[i] = scorer.Option{"element": string(e)}
	}
	scored, err := c.scorer.Choose(ctx, template, options, schemas.LikelihoodAll, c.cfg.ElementTopK)
	if err != nil {
		return nil, fmt.Errorf("failed to score elements: %w", err)
	}
	if len(scored) == 0 {
		return nil, fmt.Errorf("no element could be scored")
	}

	c.candidates = c.candidates[:0]
	for _, s := range scored {
		cmd, err := c.buildCommand(ctx, schemas.PageElement(s.Option["element"]))
		if err != nil {
			return nil, err
		}
		c.candidates = append(c.candidates, candidate{command: cmd, score: s.Score})
	}
	return nil, nil
}

// emit issues the top candidate, or asks the human when the top two are too
// close to call.
func (c *Controller) emit(ctx context.Context) (schemas.StepResult, error) {
	if len(c.candidates) == 0 {
		return schemas.StepResult{}, fmt.Errorf("no command candidates")
	}

	if c.ambiguous() {
		c.state = schemas.StateAwaitConfirmation
		c.lastPrompt = c.disambiguationPrompt()
		c.logger.Info("Top candidates too close, asking for confirmation",
			zap.Float64("top", c.candidates[0].score), zap.Float64("runner_up", c.candidates[1].score))
		return schemas.PromptResult(c.lastPrompt), nil
	}
	return c.commit(c.candidates[0].command), nil
}

// commit records the command as a moment and resets the machine for the next
// turn.
func (c *Controller) commit(cmd schemas.Command) schemas.StepResult {
	history := make([]string, len(c.previousCommands))
	copy(history, c.previousCommands)
	c.moments = append(c.moments, schemas.Moment{
		URL:              c.url,
		Elements:         c.prioritized,
		Command:          cmd,
		PreviousCommands: history,
	})
	c.previousCommands = append(c.previousCommands, string(cmd))
	c.state = schemas.StateUnset
	c.candidates = nil
	c.logger.Info("Command issued", zap.String("command", string(cmd)), zap.String("url", c.url))
	return schemas.CommandResult(cmd)
}

// resolveConfirmation interprets the user's reply to an outstanding prompt.
func (c *Controller) resolveConfirmation(ctx context.Context, response string) (schemas.StepResult, error) {
	switch {
	case response == "":
		// Nothing to go on; repeat the question.
		return schemas.PromptResult(c.lastPrompt), nil

	case response == "y":
		if len(c.candidates) == 0 {
			return schemas.PromptResult(schemas.Prompt("There is no pending command to confirm. Type a command directly.")), nil
		}
		return c.commit(c.candidates[0].command), nil

	case response == "n":
		if len(c.candidates) > 1 {
			c.candidates = c.candidates[1:]
			c.lastPrompt = c.disambiguationPrompt()
			return schemas.PromptResult(c.lastPrompt), nil
		}
		c.candidates = nil
		c.lastPrompt = "I am out of suggestions. Type a command directly, or reply cancel."
		return schemas.PromptResult(c.lastPrompt), nil

	default:
		if n, err := strconv.Atoi(response); err == nil {
			if n < 1 || n > len(c.candidates) {
				return schemas.PromptResult(c.lastPrompt), nil
			}
			return c.commit(c.candidates[n-1].command), nil
		}
		// Anything else is a direct command override.
		return c.commit(schemas.Command(response)), nil
	}
}

// buildCommand assembles the full command string for one target element. For
// type commands the free-text payload is sampled from the model.
func (c *Controller) buildCommand(ctx context.Context, element schemas.PageElement) (schemas.Command, error) {
	ref := elementRef(element)
	if c.action != "type" {
		return schemas.Command(c.action + " " + ref), nil
	}

	prompt, err := c.renderContext(ctx, generateTemplate)
	if err != nil {
		return "", err
	}
	prompt = strings.ReplaceAll(prompt, "{element}", ref)
	text, err := c.scorer.GenerateText(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate type payload: %w", err)
	}
	return schemas.Command(strings.TrimSpace("type " + ref + " " + text)), nil
}

// renderContext fills the {examples} and {state} slots of a template.
func (c *Controller) renderContext(ctx context.Context, template string) (string, error) {
	state := schemas.ConstructState(c.objective, c.url, c.prioritized, c.previousCommands)

	examples, err := c.store.Search(ctx, state, c.cfg.ExampleTopK)
	if err != nil {
		// Retrieval is best-effort; a session must work with an empty store.
		c.logger.Warn("Example retrieval failed, continuing without few-shot context", zap.Error(err))
		examples = nil
	}
	var block strings.Builder
	for _, ex := range examples {
		block.WriteString(ex.Text)
		block.WriteString("\n\n")
	}

	rendered := strings.ReplaceAll(template, "{examples}", block.String())
	rendered = strings.ReplaceAll(rendered, "{state}", state)
	return rendered, nil
}

// applicableElements filters the prioritized elements down to those the chosen
// action can target.
func (c *Controller) applicableElements() []schemas.PageElement {
	var out []schemas.PageElement
	for _, e := range c.prioritized {
		if c.action == "click" && e.IsClickable() {
			out = append(out, e)
		}
		if c.action == "type" && e.IsTypeable() {
			out = append(out, e)
		}
	}
	return out
}

// ambiguous reports whether the two best candidates are within the margin of
// each other. Scores are log likelihoods, so the comparison is relative to the
// magnitude of the best score.
func (c *Controller) ambiguous() bool {
	if len(c.candidates) < 2 || c.cfg.AmbiguityMargin <= 0 {
		return false
	}
	top, next := c.candidates[0].score, c.candidates[1].score
	scale := math.Abs(top)
	if scale == 0 {
		scale = 1
	}
	return top-next < c.cfg.AmbiguityMargin*scale
}

// disambiguationPrompt lists the live candidates for the user to pick from.
func (c *Controller) disambiguationPrompt() schemas.Prompt {
	var b strings.Builder
	b.WriteString("I am not sure which command to run. Candidates:\n")
	for i, cand := range c.candidates {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, cand.command)
	}
	b.WriteString("Reply y to run the first, n to see others, a number to pick one, or type a command directly.")
	return schemas.Prompt(b.String())
}

// fail closes the session on an unrecoverable error.
func (c *Controller) fail(err error) (schemas.StepResult, error) {
	c.state = schemas.StateError
	c.logger.Error("Session failed", zap.Error(err))
	return schemas.StepResult{}, err
}

// elementRef extracts the stable reference of an element descriptor: its type
// tag plus bracketed id, e.g. "link [12]" from "link [12] Contact us".
func elementRef(e schemas.PageElement) string {
	fields := strings.Fields(string(e))
	if len(fields) >= 2 {
		return fields[0] + " " + fields[1]
	}
	return string(e)
}
