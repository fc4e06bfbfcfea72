package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	"github.com/rhoffman0214/BobsComponents/internal/kafka"
	"github.com/rhoffman0214/BobsComponents/internal/queue"
	"github.com/rhoffman0214/BobsComponents/internal/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestWriteConfig(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "action-api.yaml")

	require.NoError(t, writeConfig(dest, defaultActionAPIYAML, false))
	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(b), "max_concurrent:    50")

	err = writeConfig(dest, "x", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	require.NoError(t, writeConfig(dest, "x", true))
	b, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "x", string(b))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "action-api.yaml")
	require.NoError(t, writeConfig(path, "max_concurrent: 7\nretry_preset: fast\n", false))

	v := viper.New()
	require.NoError(t, loadConfig(v, path))
	assert.Equal(t, 7, v.GetInt("max_concurrent"))
	assert.Equal(t, "fast", v.GetString("retry_preset"))

	t.Setenv("BOBS_RETRY_PRESET", "network")
	assert.Equal(t, "network", v.GetString("retry_preset"))

	err := loadConfig(viper.New(), filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Get(), info)
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "--operation", "fast", "--retry", "none")
	require.NoError(t, err)

	var meta domain.OperationMetadata
	require.NoError(t, json.Unmarshal([]byte(out), &meta))
	assert.True(t, meta.Succeeded)
	assert.Equal(t, "fast", meta.Name)
	assert.Nil(t, meta.Result)
}

func TestRunCommand_Rejects(t *testing.T) {
	_, err := execute(t, "run", "--operation", "teleport", "--retry", "none")
	var unknown *domain.UnknownOperationError
	assert.ErrorAs(t, err, &unknown)

	_, err = execute(t, "run", "--operation", "fast", "--retry", "aggressive")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestFormatChange(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	tests := map[string]struct {
		ev  kafka.ChangeEvent
		exp string
	}{
		"Progress": {
			ev: kafka.ChangeEvent{
				Type: queue.ChangeProgress, At: at, Running: 1, MaxConcurrent: 50,
				Actions: []domain.ActionMetadata{{ID: "0123456789", Name: "fetch-posts", State: domain.StateLoading, Progress: 50}},
			},
			exp: "09:30:00.000 progress   running=1/50 | 01234567 fetch-posts LOADING 50%",
		},
		"Error": {
			ev: kafka.ChangeEvent{
				Type: queue.ChangeState, At: at, MaxConcurrent: 50,
				Actions: []domain.ActionMetadata{{ID: "abc", Name: "unreliable", State: domain.StateError, ErrorMessage: "Network connection failed."}},
			},
			exp: `09:30:00.000 state      running=0/50 | abc unreliable ERROR 0% "Network connection failed."`,
		},
		"Cleanup": {
			ev:  kafka.ChangeEvent{Type: queue.ChangeCleanup, At: at, MaxConcurrent: 50, ActionIDs: []string{"a", "b"}},
			exp: "09:30:00.000 cleanup    running=0/50 | 2 removed",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, formatChange(test.ev))
		})
	}
}
