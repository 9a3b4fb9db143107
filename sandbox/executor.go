// Package sandbox implements the Sandbox Executor (C4): isolated
// subprocess execution of generated code with bounded resources and a
// pre-execution static security scan.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artemis-eng/artemis/core"
)

// Result is execute()'s structured verdict.
type Result struct {
	Success         bool    `json:"success"`
	ExitCode        int     `json:"exit_code"`
	Stdout          string  `json:"stdout"`
	Stderr          string  `json:"stderr"`
	DurationSeconds float64 `json:"duration_seconds"`
	Killed          bool    `json:"killed,omitempty"`
	KillReason      string  `json:"kill_reason,omitempty"`
}

// Kill reasons, per spec.md §4.4.
const (
	KillReasonTimeout      = "timeout"
	KillReasonMemory       = "memory"
	KillReasonCPU          = "cpu"
	KillReasonOutputSize   = "output_size"
	KillReasonSecurityScan = "security_scan"
)

// Executor runs untrusted code in a fresh child process per call, each
// in its own scratch working directory removed on exit. Grounded on the
// retrieval pack's DockerSandbox (aladin2907-overhuman's
// internal/instruments/docker.go): a per-call docker run with resource
// flags and a language-to-interpreter table, adapted here to the
// execute()/Result contract this engine's Supervisor expects.
type Executor struct {
	mu     sync.Mutex
	cfg    core.SandboxConfig
	logger core.Logger

	runDocker func(ctx context.Context, cfg core.SandboxConfig, interpreter []string, code string, maxOutputBytes int) (*Result, error)

	totalRuns       int
	totalViolations int
}

// NewExecutor constructs a sandbox Executor bound to cfg.
func NewExecutor(cfg core.SandboxConfig, logger core.Logger) *Executor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	e := &Executor{cfg: cfg, logger: logger}
	e.runDocker = e.runInDocker
	return e
}

// maxOutputBytes bounds combined stdout+stderr; the spec's
// output_size kill reason exists precisely to cap this.
const maxOutputBytes = 1 << 20 // 1 MiB

// Execute implements resilience.SandboxExecutor, satisfying its exact
// method shape so a Supervisor can call execute_code_safely without
// resilience importing this package. The map echoes Result's fields so
// callers that only have the interface still get every field the spec
// names.
func (e *Executor) Execute(ctx context.Context, code, language string, scanSecurity bool) (map[string]interface{}, error) {
	result, err := e.execute(ctx, code, language, scanSecurity)
	if err != nil {
		return nil, err
	}
	return resultToMap(result), nil
}

func resultToMap(r *Result) map[string]interface{} {
	m := map[string]interface{}{
		"success":          r.Success,
		"exit_code":        r.ExitCode,
		"stdout":           r.Stdout,
		"stderr":           r.Stderr,
		"duration_seconds": r.DurationSeconds,
	}
	if r.Killed {
		m["killed"] = true
		m["kill_reason"] = r.KillReason
	}
	return m
}

// execute is the typed operation: scan, run, bound, report.
func (e *Executor) execute(ctx context.Context, code, language string, scanSecurity bool) (*Result, error) {
	start := time.Now()

	if scanSecurity {
		if violation := scan(code); violation != "" {
			e.mu.Lock()
			e.totalViolations++
			e.mu.Unlock()
			e.logger.Warn("sandbox security scan rejected code", map[string]interface{}{
				"language": language,
				"reason":   violation,
			})
			return &Result{
				Success:         false,
				Killed:          true,
				KillReason:      KillReasonSecurityScan,
				DurationSeconds: time.Since(start).Seconds(),
			}, nil
		}
	}

	interpreter, err := interpreterFor(language)
	if err != nil {
		return nil, err
	}

	cfg := e.currentConfig()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = core.DefaultSandboxTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scratchDir, err := e.newScratchDir()
	if err != nil {
		return nil, fmt.Errorf("creating sandbox scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)
	cfg.ScratchRoot = scratchDir

	result, err := e.runDocker(runCtx, cfg, interpreter, code, maxOutputBytes)
	if err != nil {
		return nil, err
	}
	result.DurationSeconds = time.Since(start).Seconds()

	e.mu.Lock()
	e.totalRuns++
	e.mu.Unlock()

	return result, nil
}

func (e *Executor) currentConfig() core.SandboxConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// newScratchDir creates the per-call isolated working directory the
// spec requires ("designated scratch directory... removed on exit").
func (e *Executor) newScratchDir() (string, error) {
	root := e.currentConfig().ScratchRoot
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	dir := filepath.Join(root, "run-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// runInDocker is the real docker-run backend, swappable in tests via
// Executor.runDocker so unit tests don't depend on a docker daemon.
func (e *Executor) runInDocker(ctx context.Context, cfg core.SandboxConfig, interpreter []string, code string, maxOutput int) (*Result, error) {
	args := append(dockerRunArgs(cfg), interpreter...)

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdin = bytes.NewReader([]byte(code))

	var stdout, stderr limitedBuffer
	stdout.limit = maxOutput
	stderr.limit = maxOutput
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return &Result{Killed: true, KillReason: KillReasonTimeout, ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}
	if stdout.truncated || stderr.truncated {
		return &Result{Killed: true, KillReason: KillReasonOutputSize, ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}

	var exitCode int
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		if reason := killReasonForExitCode(exitCode); reason != "" {
			return &Result{Killed: true, KillReason: reason, ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
	} else if runErr != nil {
		return nil, fmt.Errorf("running sandbox container: %w", runErr)
	}

	return &Result{
		Success:  exitCode == 0,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// dockerRunArgs builds the docker-run flag list enforcing cfg's
// resource limits: memory and CPU rate via --memory/--cpus, wall-clock
// via the caller's context deadline, and CPU-seconds/open-file-count
// via --ulimit, matching spec.md §4.4's five required limits alongside
// the output-byte cap limitedBuffer applies to stdout/stderr.
func dockerRunArgs(cfg core.SandboxConfig) []string {
	args := []string{
		"run", "--rm", "-i",
		"--memory", fmt.Sprintf("%dm", cfg.MemoryMB),
		"--cpus", fmt.Sprintf("%.2f", cfg.CPUs),
		"--network", cfg.NetworkMode,
		"--cap-drop=ALL",
		"--read-only",
		"--tmpfs", "/tmp:size=64m",
		"--volume", cfg.ScratchRoot + ":/workspace:rw",
		"--workdir", "/workspace",
	}
	if cfg.MaxCPUSeconds > 0 {
		args = append(args, "--ulimit", fmt.Sprintf("cpu=%d", cfg.MaxCPUSeconds))
	}
	if cfg.MaxOpenFiles > 0 {
		args = append(args, "--ulimit", fmt.Sprintf("nofile=%d", cfg.MaxOpenFiles))
	}
	return append(args, cfg.Image)
}

// exitCodeSIGXCPU is 128+24: the standard shell convention for a
// process killed by SIGXCPU, which the kernel sends when a
// container's --ulimit cpu= seconds budget is exhausted.
const exitCodeSIGXCPU = 152

// killReasonForExitCode maps a container exit code to the resource
// limit that killed it, or "" if exitCode reflects ordinary program
// termination rather than a limit violation.
func killReasonForExitCode(exitCode int) string {
	switch exitCode {
	case 137:
		return KillReasonMemory
	case exitCodeSIGXCPU:
		return KillReasonCPU
	default:
		return ""
	}
}

// limitedBuffer caps accumulated output at limit bytes and records
// truncation rather than growing unbounded, backing the output_size
// kill reason.
type limitedBuffer struct {
	bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.truncated {
		return len(p), nil
	}
	if b.Len()+len(p) > b.limit {
		remaining := b.limit - b.Len()
		if remaining > 0 {
			b.Buffer.Write(p[:remaining])
		}
		b.truncated = true
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

// Stats reports lifetime run and security-violation counts.
func (e *Executor) Stats() (runs, violations int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalRuns, e.totalViolations
}

func interpreterFor(language string) ([]string, error) {
	switch language {
	case "python", "py":
		return []string{"python3", "-c", "import sys; exec(sys.stdin.read())"}, nil
	case "javascript", "js", "node":
		return []string{"node", "--input-type=module"}, nil
	case "bash", "sh", "shell":
		return []string{"bash", "-s"}, nil
	case "go", "golang":
		return []string{"sh", "-c", "cat > main.go && go run main.go"}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported sandbox language %q", core.ErrInvalidConfiguration, language)
	}
}
