package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	"github.com/rhoffman0214/BobsComponents/internal/executor"
	"github.com/rhoffman0214/BobsComponents/internal/queue"
	"github.com/rhoffman0214/BobsComponents/services/action-api/config"
)

var runOpts struct {
	operation  string
	retry      string
	timeout    time.Duration
	showResult bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one operation through an executor and print its record",
	Long: `Run one registered operation locally, logging progress, retries and the
terminal outcome, then print the operation record as JSON.

Exits non-zero when the operation ends in ERROR.`,
	Example: `  action-api run --operation fetch-posts --retry network
  action-api run --operation unreliable --retry fast --timeout 10s`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runOpts.operation, "operation", "fast", "operation name (see GET /api/v1/operations)")
	runCmd.Flags().StringVar(&runOpts.retry, "retry", executor.PresetNone, "retry preset: none | fast | network")
	runCmd.Flags().DurationVar(&runOpts.timeout, "timeout", 0, "deadline including retries; 0 disables")
	runCmd.Flags().BoolVar(&runOpts.showResult, "show-result", false, "include the operation result in the output")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, serviceName).With(slog.String("command", "run"))

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	op, err := registry.Get(runOpts.operation)
	if err != nil {
		return err
	}
	preset, err := executor.PresetByName(runOpts.retry)
	if err != nil {
		return err
	}

	q := queue.NewService(queue.WithLogger(logger))
	e := executor.New(runOpts.operation,
		executor.WithQueue(q),
		executor.WithRetry(preset),
		executor.WithLogger(logger),
	)

	q.Subscribe(func(c queue.Change) {
		if c.Type != queue.ChangeProgress {
			return
		}
		for _, id := range c.ActionIDs {
			if a, err := q.Get(id); err == nil {
				logger.Info("progress", slog.String("action_id", id), slog.Int("percent", a.Progress))
			}
		}
	})
	e.OnStateChange(func(sc executor.StateChange) {
		logger.Info("state", slog.String("from", string(sc.From)), slog.String("to", string(sc.To)))
	})
	e.OnRetry(func(r executor.RetryEvent) {
		logger.Info("retrying",
			slog.Int("attempt", r.Attempt),
			slog.Duration("delay", r.Delay),
			slog.String("code", string(r.LastError.Code)),
		)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if runOpts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runOpts.timeout)
		defer cancel()
	}

	_, meta := e.Execute(ctx, op)
	if !runOpts.showResult {
		meta.Result = nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if meta.FinalState == domain.StateError {
		return fmt.Errorf("%s: %s", meta.Error.Code, meta.Error.UserMessage)
	}
	return nil
}
