package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-eng/artemis/core"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	cfg := core.SandboxConfig{
		Image:         "artemis-sandbox:latest",
		MemoryMB:      256,
		CPUs:          0.5,
		MaxCPUSeconds: 10,
		MaxOpenFiles:  64,
		Timeout:       5 * time.Second,
		NetworkMode:   "none",
		ScratchRoot:   t.TempDir(),
	}
	return NewExecutor(cfg, nil)
}

func TestDockerRunArgsIncludesCPUAndOpenFileUlimits(t *testing.T) {
	cfg := core.SandboxConfig{
		Image:         "artemis-sandbox:latest",
		MemoryMB:      256,
		CPUs:          0.5,
		MaxCPUSeconds: 10,
		MaxOpenFiles:  64,
		NetworkMode:   "none",
		ScratchRoot:   "/tmp/scratch",
	}
	args := dockerRunArgs(cfg)
	assert.Contains(t, args, "--ulimit")
	assert.Contains(t, args, "cpu=10")
	assert.Contains(t, args, "nofile=64")
}

func TestDockerRunArgsOmitsUlimitsWhenUnset(t *testing.T) {
	cfg := core.SandboxConfig{
		Image:       "artemis-sandbox:latest",
		MemoryMB:    256,
		CPUs:        0.5,
		NetworkMode: "none",
		ScratchRoot: "/tmp/scratch",
	}
	args := dockerRunArgs(cfg)
	assert.NotContains(t, args, "--ulimit")
}

func TestKillReasonForExitCode(t *testing.T) {
	assert.Equal(t, KillReasonMemory, killReasonForExitCode(137))
	assert.Equal(t, KillReasonCPU, killReasonForExitCode(152))
	assert.Equal(t, "", killReasonForExitCode(0))
	assert.Equal(t, "", killReasonForExitCode(1))
}

func TestExecuteRejectsCodeFailingSecurityScan(t *testing.T) {
	e := newTestExecutor(t)
	e.runDocker = func(ctx context.Context, cfg core.SandboxConfig, interpreter []string, code string, maxOutput int) (*Result, error) {
		t.Fatal("runDocker must not be invoked when the security scan rejects the code")
		return nil, nil
	}

	result, err := e.execute(context.Background(), "import os\nos.system('rm -rf /')\n", "python", true)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Killed)
	assert.Equal(t, KillReasonSecurityScan, result.KillReason)
}

func TestExecuteSkipsScanWhenNotRequested(t *testing.T) {
	e := newTestExecutor(t)
	called := false
	e.runDocker = func(ctx context.Context, cfg core.SandboxConfig, interpreter []string, code string, maxOutput int) (*Result, error) {
		called = true
		return &Result{Success: true, ExitCode: 0, Stdout: "ok"}, nil
	}

	result, err := e.execute(context.Background(), "os.system('echo hi')", "python", false)
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, result.Success)
}

func TestExecuteReturnsErrorForUnsupportedLanguage(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.execute(context.Background(), "print(1)", "cobol", false)
	assert.Error(t, err)
}

func TestExecuteSuccessPopulatesResultFields(t *testing.T) {
	e := newTestExecutor(t)
	e.runDocker = func(ctx context.Context, cfg core.SandboxConfig, interpreter []string, code string, maxOutput int) (*Result, error) {
		return &Result{Success: true, ExitCode: 0, Stdout: "4\n"}, nil
	}

	result, err := e.execute(context.Background(), "print(2+2)", "python", true)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "4\n", result.Stdout)
	assert.GreaterOrEqual(t, result.DurationSeconds, 0.0)
}

func TestExecuteSurfacesTimeout(t *testing.T) {
	e := newTestExecutor(t)
	e.runDocker = func(ctx context.Context, cfg core.SandboxConfig, interpreter []string, code string, maxOutput int) (*Result, error) {
		<-ctx.Done()
		return &Result{Killed: true, KillReason: KillReasonTimeout, ExitCode: -1}, nil
	}
	e.cfg.Timeout = 10 * time.Millisecond

	result, err := e.execute(context.Background(), "while True: pass", "python", false)
	require.NoError(t, err)
	assert.True(t, result.Killed)
	assert.Equal(t, KillReasonTimeout, result.KillReason)
}

func TestExecuteImplementsSandboxExecutorMapShape(t *testing.T) {
	e := newTestExecutor(t)
	e.runDocker = func(ctx context.Context, cfg core.SandboxConfig, interpreter []string, code string, maxOutput int) (*Result, error) {
		return &Result{Success: true, ExitCode: 0, Stdout: "ok"}, nil
	}

	m, err := e.Execute(context.Background(), "print('ok')", "python", true)
	require.NoError(t, err)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, 0, m["exit_code"])
	assert.Equal(t, "ok", m["stdout"])
	assert.Contains(t, m, "duration_seconds")
	assert.NotContains(t, m, "killed")
}

func TestExecuteMapShapeIncludesKillReasonWhenKilled(t *testing.T) {
	e := newTestExecutor(t)

	m, err := e.Execute(context.Background(), "import os\nos.system('id')\n", "python", true)
	require.NoError(t, err)
	assert.Equal(t, true, m["killed"])
	assert.Equal(t, KillReasonSecurityScan, m["kill_reason"])
}

func TestLimitedBufferTruncatesAtLimit(t *testing.T) {
	buf := limitedBuffer{limit: 4}
	n, err := buf.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.True(t, buf.truncated)
	assert.Equal(t, "abcd", buf.String())
}

func TestStatsTracksRunsAndViolations(t *testing.T) {
	e := newTestExecutor(t)
	e.runDocker = func(ctx context.Context, cfg core.SandboxConfig, interpreter []string, code string, maxOutput int) (*Result, error) {
		return &Result{Success: true, ExitCode: 0}, nil
	}

	_, err := e.execute(context.Background(), "print(1)", "python", true)
	require.NoError(t, err)
	_, err = e.execute(context.Background(), "os.system('id')", "python", true)
	require.NoError(t, err)

	runs, violations := e.Stats()
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, violations)
}
