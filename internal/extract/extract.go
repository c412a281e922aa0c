// Package extract runs the external extractor executable that produces the
// report files.
package extract

import (
	"context"
	"errors"
	"io"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-runner/internal/config"
)

// Runner starts the extractor and waits for it to exit.
type Runner struct {
	cfg    config.ExtractionConfig
	stdout io.Writer
	stderr io.Writer
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutput redirects the extractor's stdout and stderr. By default both are
// inherited from this process.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// New creates a Runner.
func New(cfg config.ExtractionConfig, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Command builds the extractor command: executable, then subcommand, then the
// configured args. It runs in the executable's directory with the configured
// environment added to this process's environment.
func (r *Runner) Command(ctx context.Context) *exec.Cmd {
	args := make([]string, 0, len(r.cfg.Args)+1)
	if r.cfg.Subcommand != "" {
		args = append(args, r.cfg.Subcommand)
	}
	args = append(args, r.cfg.Args...)

	exe := r.cfg.Executable
	if filepath.Base(exe) != exe {
		// exec resolves a relative path against Dir.
		if abs, err := filepath.Abs(exe); err == nil {
			exe = abs
		}
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Dir = filepath.Dir(exe)
	cmd.Env = os.Environ()
	for _, k := range slices.Sorted(maps.Keys(r.cfg.Env)) {
		cmd.Env = append(cmd.Env, k+"="+r.cfg.Env[k])
	}
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	return cmd
}

// Run starts the extractor and waits for it. A non-zero exit is logged and
// reported through exitCode with a nil error; only a failure to start (or a
// cancelled context) is an error.
func (r *Runner) Run(ctx context.Context) (exitCode int, err error) {
	cmd := r.Command(ctx)
	log := zap.L().With(
		zap.String("executable", r.cfg.Executable),
		zap.String("subcommand", r.cfg.Subcommand),
		zap.String("dir", cmd.Dir),
	)
	log.Info("extract: starting extractor", zap.Strings("args", r.cfg.Args))

	if err := cmd.Start(); err != nil {
		return -1, eris.Wrapf(err, "extract: start %s", r.cfg.Executable)
	}

	err = cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, eris.Wrap(ctxErr, "extract: extractor interrupted")
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		log.Info("extract: extractor completed successfully")
		return 0, nil
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		log.Warn("extract: extractor exited with non-zero status", zap.Int("exit_code", code))
		return code, nil
	default:
		return -1, eris.Wrapf(err, "extract: wait for %s", r.cfg.Executable)
	}
}
