package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rhoffman0214/BobsComponents/internal/kafka"
	"github.com/rhoffman0214/BobsComponents/services/action-api/config"
)

var watchFromStart bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print queue change events published to Kafka",
	Long: `Consume the change-event topic and print one line per event.

Each watcher joins its own consumer group, so several can run side by side.
Uses the kafka_brokers and events_topic settings of serve.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchFromStart, "from-start", false, "replay the topic from the earliest retained event")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return errors.New("kafka_brokers is not set")
	}
	logger := buildLogger(cfg.LogLevel, serviceName)

	var opts []kafka.ConsumerOption
	if !watchFromStart {
		opts = append(opts, kafka.FromLatest())
	}
	groupID := serviceName + "-watch-" + uuid.New().String()[:8]
	consumer := kafka.NewConsumer(brokers, cfg.EventsTopic, groupID, logger, opts...)
	defer func() { _ = consumer.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	out := cmd.OutOrStdout()
	return consumer.Subscribe(ctx, kafka.HandleChanges(logger, func(_ context.Context, ev kafka.ChangeEvent) error {
		fmt.Fprintln(out, formatChange(ev))
		return nil
	}))
}

func formatChange(ev kafka.ChangeEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-10s running=%d/%d", ev.At.Format("15:04:05.000"), ev.Type, ev.Running, ev.MaxConcurrent)
	for _, a := range ev.Actions {
		fmt.Fprintf(&b, " | %s %s %s %d%%", a.ID[:min(8, len(a.ID))], a.Name, a.State, a.Progress)
		if a.ErrorMessage != "" {
			fmt.Fprintf(&b, " %q", a.ErrorMessage)
		}
	}
	if len(ev.Actions) == 0 && len(ev.ActionIDs) > 0 {
		fmt.Fprintf(&b, " | %d removed", len(ev.ActionIDs))
	}
	return b.String()
}
