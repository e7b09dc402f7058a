package commands_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popupflow/cmd/flowsim/commands"
	"popupflow/internal/popup"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("config file", func(t *testing.T) {
		path := writeFile(t, "flowsim.yaml", "loading-timeout: 250ms\ntimeout: 3s\n")

		cfg, err := commands.LoadConfig(path, nil)
		require.NoError(t, err)

		assert.Equal(t, 250*time.Millisecond, cfg.LoadingTimeout)
		assert.Equal(t, 3*time.Second, cfg.Timeout)
		assert.Equal(t, popup.DefaultLegitimateCloseAfter, cfg.LegitimateCloseAfter)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		path := writeFile(t, "flowsim.yaml", "loading-timeout: 250ms\n")
		t.Setenv("FLOWSIM_LOADING_TIMEOUT", "75ms")

		cfg, err := commands.LoadConfig(path, nil)
		require.NoError(t, err)

		assert.Equal(t, 75*time.Millisecond, cfg.LoadingTimeout)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := commands.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)
		assert.ErrorContains(t, err, "config file not found")
	})
}

func TestParsePlan(t *testing.T) {
	t.Run("valid plan", func(t *testing.T) {
		plan, err := commands.ParsePlan([]byte(`
runs:
  - name: mobile close
    env: mobile
    scenario: close
    loading_timeout: 20ms
    expect:
      kind: cancelled
      reason: manual_close
`))
		require.NoError(t, err)
		require.Len(t, plan.Runs, 1)

		run := plan.Runs[0]
		assert.Equal(t, "mobile", run.Env)
		assert.Equal(t, 20*time.Millisecond, run.Loading)
		assert.Equal(t, "manual_close", run.Expect.Reason)
	})

	t.Run("rejects incomplete runs", func(t *testing.T) {
		_, err := commands.ParsePlan([]byte("runs:\n  - env: desktop\n    expect: {kind: success}\n"))
		assert.ErrorContains(t, err, "env and scenario are required")

		_, err = commands.ParsePlan([]byte("runs:\n  - env: desktop\n    scenario: success\n"))
		assert.ErrorContains(t, err, "expect.kind is required")

		_, err = commands.ParsePlan([]byte("runs: []\n"))
		assert.ErrorContains(t, err, "no runs")
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		_, err := commands.ParsePlan([]byte("runs: [\n"))
		assert.ErrorContains(t, err, "parse plan")
	})
}

func TestExpectationMismatch(t *testing.T) {
	closed := popup.Cancelled(popup.ReasonManualClose)

	assert.Empty(t, commands.Expectation{Kind: "cancelled"}.Mismatch(closed))
	assert.Empty(t, commands.Expectation{Kind: "cancelled", Reason: "manual_close"}.Mismatch(closed))
	assert.Equal(t, "kind cancelled, want success", commands.Expectation{Kind: "success"}.Mismatch(closed))
	assert.Equal(t, "reason manual_close, want user_cancelled",
		commands.Expectation{Kind: "cancelled", Reason: "user_cancelled"}.Mismatch(closed))
}

func TestPlanCommand(t *testing.T) {
	config := writeFile(t, "flowsim.yaml", "loading-timeout: 20ms\nlegitimate-close-after: 50ms\ntimeout: 5s\n")

	run := func(plan string) (string, error) {
		cmd := commands.NewRootCmd()
		var stdout bytes.Buffer
		cmd.SetOut(&stdout)
		cmd.SetArgs([]string{"plan", "--config", config, writeFile(t, "plan.yaml", plan)})
		err := cmd.ExecuteContext(context.Background())
		return stdout.String(), err
	}

	t.Run("all runs match", func(t *testing.T) {
		out, err := run(`
runs:
  - name: desktop success
    env: desktop
    scenario: success
    expect: {kind: success, message: OTP verified successfully}
  - env: mobile
    scenario: close
    expect: {kind: cancelled, reason: manual_close}
`)
		require.NoError(t, err)
		assert.Equal(t, "ok   desktop success\nok   mobile/close\n", out)
	})

	t.Run("a mismatch fails the command", func(t *testing.T) {
		out, err := run(`
runs:
  - env: desktop
    scenario: cancel
    expect: {kind: success}
`)
		assert.ErrorContains(t, err, "1 of 1 runs failed")
		assert.Equal(t, "FAIL desktop/cancel: kind cancelled, want success\n", out)
	})
}
