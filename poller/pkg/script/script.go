// Package script runs the downstream import command and reports how it ended.
package script

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/GeorgeGarkavenko/guess/poller/pkg/metrics"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Logger *slog.Logger
	// Command is split on whitespace; there is no shell quoting.
	Command string
	// Dir is the working directory. Empty means the current one.
	Dir   string
	Clock clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(strings.Fields(cfg.Command)) == 0 {
		return errors.New("script command is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Result is how a finished script run ended.
type Result struct {
	ExitCode int
	Duration time.Duration
}

func (r Result) Success() bool {
	return r.ExitCode == 0
}

type Runner struct {
	log  *slog.Logger
	cfg  Config
	args []string
}

func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{log: cfg.Logger, cfg: cfg, args: strings.Fields(cfg.Command)}, nil
}

// Run executes the command and waits for it. Output lines are logged as they
// arrive. A non-zero exit is reported in the result; only a command that could
// not be started or was cancelled returns an error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	cmd := exec.CommandContext(ctx, r.args[0], r.args[1:]...)
	cmd.Dir = r.cfg.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open stderr: %w", err)
	}

	r.log.Info("script: starting", "command", r.cfg.Command)
	start := r.cfg.Clock.Now()
	if err := cmd.Start(); err != nil {
		metrics.ImportScriptRunsTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("failed to start %q: %w", r.args[0], err)
	}

	// Both pipes must be drained before Wait.
	var g errgroup.Group
	g.Go(func() error { return r.stream("stdout", stdout) })
	g.Go(func() error { return r.stream("stderr", stderr) })
	streamErr := g.Wait()

	waitErr := cmd.Wait()
	res := Result{Duration: r.cfg.Clock.Since(start)}
	metrics.ImportScriptDuration.Observe(res.Duration.Seconds())

	if ctx.Err() != nil {
		metrics.ImportScriptRunsTotal.WithLabelValues("cancelled").Inc()
		return res, fmt.Errorf("script cancelled: %w", ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		metrics.ImportScriptRunsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("failed to wait for %q: %w", r.args[0], waitErr)
	}
	if streamErr != nil {
		r.log.Warn("script: failed to read output", "error", streamErr)
	}

	status := "success"
	if !res.Success() {
		status = "failure"
	}
	metrics.ImportScriptRunsTotal.WithLabelValues(status).Inc()
	r.log.Info("script: completed", "command", r.cfg.Command, "exit_code", res.ExitCode, "duration", res.Duration.String())
	return res, nil
}

func (r *Runner) stream(name string, rd io.Reader) error {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		r.log.Info("script: output", "stream", name, "line", sc.Text())
	}
	if err := sc.Err(); err != nil {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, rd)
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
