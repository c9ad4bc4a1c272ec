package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/adapter/orchestration"
	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/poller"
	"github.com/xiaot623/carechat/internal/result"
)

type askOptions struct {
	enrichmentURL    string
	orchestrationURL string
	userID           string
	sessionID        string
	workflow         string
	maxAttempts      int
	retry            bool
}

func newAskCmd() *cobra.Command {
	opts := askOptions{}
	defaults := orchestration.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and wait for the answer",
		Long: `Sends the question to the enrichment service, hands the resulting plan to
the orchestrator and polls for completion with progressive backoff.

Example:
  carechat-cli ask "I have a headache and fever"
  carechat-cli ask --user pat1 "Show my medical history"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return runAsk(ctx, cmd.OutOrStdout(), opts, strings.Join(args, " "))
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.enrichmentURL, "enrichment-url", defaults.EnrichmentURL, "Enrichment service base URL")
	f.StringVar(&opts.orchestrationURL, "orchestration-url", defaults.OrchestrationURL, "Orchestration service base URL")
	f.StringVar(&opts.userID, "user", "", "Patient ID to ask as (default anonymous)")
	f.StringVar(&opts.sessionID, "session", "", "Session ID (generated when empty)")
	f.StringVar(&opts.workflow, "workflow", string(domain.DefaultWorkflow), "Backend workflow")
	f.IntVar(&opts.maxAttempts, "max-attempts", poller.DefaultMaxAttempts, "Status checks before giving up")
	f.BoolVar(&opts.retry, "retry", false, "Send as a retry straight to the orchestrator")
	return cmd
}

func runAsk(ctx context.Context, out io.Writer, opts askOptions, prompt string) error {
	cfg := orchestration.DefaultConfig()
	cfg.EnrichmentURL = opts.enrichmentURL
	cfg.OrchestrationURL = opts.orchestrationURL

	log := logger
	if log == nil {
		log = zap.NewNop()
	}
	client := orchestration.NewClient(cfg, orchestration.WithLogger(log))
	controller := poller.NewController(client, poller.Options{
		MaxAttempts: opts.maxAttempts,
		Logger:      log,
	})

	req := domain.Request{
		Prompt:    prompt,
		UserID:    opts.userID,
		SessionID: opts.sessionID,
		Workflow:  domain.Workflow(opts.workflow),
	}
	if opts.retry {
		req = req.Retry()
	}

	fmt.Fprintln(out, result.ProcessingMessage)
	outcome := controller.Run(ctx, req, poller.ReporterFuncs{
		OnPlanned: func(u poller.Update) {
			fmt.Fprintln(out, u.Text)
		},
		OnFinal: func(o poller.Outcome) {
			fmt.Fprintln(out, o.Message)
		},
	})

	log.Debug("ask finished",
		zap.String("session_id", outcome.SessionID),
		zap.String("state", string(outcome.State)),
		zap.Int("status_checks", outcome.StatusChecks),
		zap.Duration("elapsed", outcome.Elapsed))

	if outcome.State == domain.PollStateCancelled {
		return fmt.Errorf("cancelled: %w", outcome.Err)
	}
	return nil
}
