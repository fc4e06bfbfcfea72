package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultActionAPIYAML = `# Bob's Components action API config
# Priority: CLI flag > BOBS_* env var > this file > default.

http_port:    "8080"
metrics_addr: ":9095"
log_level:    "info"        # debug | info | warn | error

max_concurrent:    50
retention:         5s
cleanup_schedule:  "@every 1s"
retry_preset:      "none"   # none | fast | network
operation_timeout: 0s       # 0 disables the per-run deadline

redis_addr:  ""             # e.g. localhost:6379; empty disables rate limiting
rate_limit:  60
rate_window: 1m

kafka_brokers: ""           # e.g. localhost:9092; empty disables change events
events_topic:  "action-queue.changes"

placeholder_url: "https://jsonplaceholder.typicode.com"
failure_rate:    0.3

# otel_endpoint: "localhost:4318"  # uncomment to enable OpenTelemetry tracing
`

// newInitCmd returns an "init" subcommand that writes defaultYAML to --config
// or ~/.bobs-components/<serviceName>.yaml.
func newInitCmd(serviceName, defaultYAML string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: fmt.Sprintf(`Write default configuration for %s.

If --config is given the file is written to that path.
Otherwise it is written to ~/.bobs-components/%s.yaml.
Fails if the file already exists unless --force is passed.`, serviceName, serviceName),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dest := cfgFile
			if dest == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("home dir: %w", err)
				}
				dest = filepath.Join(home, ".bobs-components", serviceName+".yaml")
			}
			if err := writeConfig(dest, defaultYAML, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}

func writeConfig(dest, content string, force bool) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	if !force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", dest, err)
		}
	}

	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
