// File: cmd/run.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/audit"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/controller"
	"github.com/webpilot-ai/webpilot/internal/memory"
	"github.com/webpilot-ai/webpilot/internal/observability"
	"github.com/webpilot-ai/webpilot/internal/provider"
	"github.com/webpilot-ai/webpilot/internal/ranker"
	"github.com/webpilot-ai/webpilot/internal/scorer"
	"github.com/webpilot-ai/webpilot/internal/session"
	"github.com/webpilot-ai/webpilot/internal/tally"
)

// sessionKey identifies the single interactive session of the CLI front end.
const sessionKey = "cli"

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [objective...]",
		Short: "Pursue an objective interactively in a live browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := observability.GetLogger()

			registry, err := buildRegistry(logger)
			if err != nil {
				return err
			}
			defer registry.CloseAll(context.Background())

			stdin := bufio.NewScanner(os.Stdin)
			objective := strings.TrimSpace(strings.Join(args, " "))
			if objective == "" {
				fmt.Println("What should I do?")
				var ok bool
				if objective, ok = readLine(stdin); !ok {
					return nil
				}
			}

			sess, err := registry.Open(ctx, sessionKey, objective)
			if err != nil {
				return fmt.Errorf("failed to open session: %w", err)
			}
			defer registry.Close(context.Background(), sessionKey)

			return interact(ctx, sess, stdin, logger)
		},
	}
}

// buildRegistry wires the model provider, the episodic stores and the browser
// factory into a session registry.
func buildRegistry(logger *zap.Logger) (*session.Registry, error) {
	var auditLog *audit.Log
	if cfg.Audit.Enabled {
		var err error
		if auditLog, err = audit.New(cfg.Audit.Dir, logger); err != nil {
			return nil, err
		}
	}

	client, err := provider.New(cfg.Provider, auditLog, logger)
	if err != nil {
		return nil, err
	}
	tok := provider.NewTokenizer(cfg.Provider.Model, logger)

	store, err := memory.Open(cfg.Memory.Path, client, cfg.Controller.MaxElements, logger)
	if err != nil {
		return nil, err
	}

	rank := ranker.New(client, tok, cfg.Provider.ContextLimit, logger)
	score := scorer.New(client, tok, cfg.Provider, cfg.Controller.GenerateTokens, logger)
	responses := tally.New(cfg.Tally.Path, logger)

	newCrawler := func(ctx context.Context) (schemas.Crawler, error) {
		return browser.New(ctx, cfg.Browser, logger)
	}
	newController := func(objective string) *controller.Controller {
		return controller.New(objective, cfg.Controller, rank, score, store, responses, logger)
	}
	return session.NewRegistry(newCrawler, newController, logger), nil
}

// interact runs the crawl/step/execute loop until the objective completes, the
// user cancels or input ends.
func interact(ctx context.Context, sess *session.Session, stdin *bufio.Scanner, logger *zap.Logger) error {
	response := ""
	for {
		url, elements, err := sess.Crawler.Crawl(ctx)
		if err != nil {
			return fmt.Errorf("failed to crawl page: %w", err)
		}

		result, err := sess.Controller.Step(ctx, url, elements, response)
		switch {
		case errors.Is(err, controller.ErrObjectiveComplete):
			fmt.Println("Objective complete. Episode saved.")
			return nil
		case errors.Is(err, controller.ErrSessionCancelled):
			fmt.Println("Session cancelled.")
			return nil
		case err != nil:
			return err
		}

		switch result.Kind {
		case schemas.ResultCommand:
			fmt.Printf("Running: %s\n", result.Command)
			if err := sess.Crawler.RunCommand(ctx, result.Command); err != nil {
				logger.Warn("Command failed in browser", zap.Error(err))
				fmt.Printf("That command failed: %v\n", err)
			}
		case schemas.ResultPrompt:
			fmt.Println(string(result.Prompt))
		}

		input, ok := promptUser(ctx, sess, stdin)
		if !ok {
			sess.Controller.Cancel()
			fmt.Println("Input closed, session discarded.")
			return nil
		}
		response = input
	}
}

// promptUser reads the next reply, servicing goto/show/help locally until the
// user says something the controller should see. An empty reply means
// "carry on". Returns false when stdin is exhausted.
func promptUser(ctx context.Context, sess *session.Session, stdin *bufio.Scanner) (string, bool) {
	for {
		fmt.Print("> ")
		input, ok := readLine(stdin)
		if !ok {
			return "", false
		}

		switch {
		case input == "help":
			fmt.Println(controller.HelpMessage)
		case input == "show":
			for _, e := range sess.Controller.Elements() {
				fmt.Println("  " + string(e))
			}
		case strings.HasPrefix(input, "goto "):
			target := strings.TrimSpace(strings.TrimPrefix(input, "goto "))
			if err := sess.Crawler.GoTo(ctx, target); err != nil {
				fmt.Printf("Could not open %s: %v\n", target, err)
			}
			return "", true
		default:
			return input, true
		}
	}
}

func readLine(stdin *bufio.Scanner) (string, bool) {
	if !stdin.Scan() {
		return "", false
	}
	return strings.TrimSpace(stdin.Text()), true
}
