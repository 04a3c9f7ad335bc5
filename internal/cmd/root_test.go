package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harrison/webpilot/internal/config"
	"github.com/harrison/webpilot/internal/ledger"
	"github.com/harrison/webpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHome points WEBPILOT_HOME at a temp dir with a config that keeps all
// paths inside it and reads the API key from a variable that is never set.
func testHome(t *testing.T, extra string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.HomeEnvVar, home)
	t.Setenv("WEBPILOT_TEST_API_KEY", "")

	cfg := `log_level: error
llm:
  api_key_env: WEBPILOT_TEST_API_KEY
templates:
  dir: ` + filepath.Join(home, "templates") + `
metrics_textfile: ` + filepath.Join(home, "webpilot.prom") + `
download:
  output_dir: ` + filepath.Join(home, "downloads") + `
` + extra
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(cfg), 0644))
	return home
}

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seedRun seals one run into the sqlite ledger under home.
func seedRun(t *testing.T, home, command string, outcome models.Outcome, runErr error, actions ...models.ActionRecord) string {
	t.Helper()
	store, err := ledger.OpenStore("sqlite", filepath.Join(home, "ledger", "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	run := ledger.New(store).Open(command, "do "+command, models.ModeFast)
	for _, a := range actions {
		require.NoError(t, run.Record(a.Action, a.Success, a.Error, a.Detail))
	}
	require.NoError(t, run.Seal(context.Background(), outcome, runErr))
	return run.ID()
}

func TestRootCommandHelp(t *testing.T) {
	out, err := execute(t, "", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "webpilot")
	assert.Contains(t, out, "browser automation")
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "webpilot", cmd.Use)

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"run", "shell", "generate", "analyze", "ledger", "tasks"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}

	for _, flag := range []string{"config", "log-level", "ledger-backend"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing persistent flag %s", flag)
	}
}

func TestRunRequiresAPIKey(t *testing.T) {
	testHome(t, "")

	_, err := execute(t, "", "run", "download form 941")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBPILOT_TEST_API_KEY")
}

func TestRunRejectsInvalidMode(t *testing.T) {
	testHome(t, "")

	_, err := execute(t, "", "run", "--mode", "turbo", "download form 941")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turbo")
}

func TestInvalidConfigIsReported(t *testing.T) {
	testHome(t, "execution:\n  max_iterations: -1\n")

	_, err := execute(t, "", "tasks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
