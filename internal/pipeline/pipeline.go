// Package pipeline runs the extract, discover, stabilize, deliver and archive
// cycle, once or on a fixed interval.
package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-runner/internal/config"
	"github.com/sells-group/extract-runner/internal/files"
	"github.com/sells-group/extract-runner/internal/lookup"
	"github.com/sells-group/extract-runner/internal/monitoring"
	"github.com/sells-group/extract-runner/internal/reshape"
	"github.com/sells-group/extract-runner/internal/resilience"
)

// Preflight errors returned by EnrichLatest.
var (
	ErrOutputDirMissing = eris.New("pipeline: output directory does not exist")
	ErrOutputNotDir     = eris.New("pipeline: output path is not a directory")
	ErrNoFile           = eris.New("pipeline: no matching files found")
	ErrNotAFile         = eris.New("pipeline: newest match is not a regular file")
	ErrLookupDisabled   = eris.New("pipeline: lookup enrichment is not enabled")
	ErrNotLookupMode    = eris.New("pipeline: api mode must be 'lookup_enrich'")
)

// Extractor runs the external extraction program.
type Extractor interface {
	Run(ctx context.Context) (exitCode int, err error)
}

// FileFinder locates the newest output file.
type FileFinder interface {
	FindNewest(ctx context.Context) (*files.Candidate, error)
}

// StabilityWaiter blocks until a file stops growing.
type StabilityWaiter interface {
	AwaitStable(ctx context.Context, path string) (files.Outcome, error)
}

// Reshaper normalizes a report into a temp file.
type Reshaper interface {
	Reshape(ctx context.Context, path string) (*reshape.Result, error)
}

// Uploader sends a file to the ingestion endpoint.
type Uploader interface {
	Upload(ctx context.Context, path, displayName string) error
}

// Enricher fills report rows from the lookup service and posts them.
type Enricher interface {
	Enrich(ctx context.Context, path string) ([]lookup.Row, error)
	Post(ctx context.Context, rows []lookup.Row) error
}

// Archiver moves a processed file out of the output directory.
type Archiver interface {
	Enabled() bool
	Archive(path string) (string, error)
}

// Observer is told about every finished cycle.
type Observer interface {
	Observe(ctx context.Context, res monitoring.CycleResult) int
}

// Deps holds the collaborators a Runner drives. Reshaper is only needed when
// transform is enabled, Enricher only in lookup_enrich mode and Uploader only
// outside it.
type Deps struct {
	Extractor Extractor
	Finder    FileFinder
	Gate      StabilityWaiter
	Reshaper  Reshaper
	Uploader  Uploader
	Enricher  Enricher
	Archiver  Archiver
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver reports every finished cycle to o.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithSleep replaces the settle delay and loop interval wait (for testing).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = fn }
}

// Runner orchestrates pipeline cycles.
type Runner struct {
	cfg      *config.Config
	deps     Deps
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// New creates a Runner.
func New(cfg *config.Config, deps Deps, opts ...Option) *Runner {
	r := &Runner{
		cfg:   cfg,
		deps:  deps,
		sleep: resilience.SleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce performs one full cycle. Finding no file is not an error: the
// report's outcome is no_file and nil is returned.
func (r *Runner) RunOnce(ctx context.Context) (*Report, error) {
	rep := r.newReport()
	log := zap.L().With(zap.String("run_id", rep.RunID))
	log.Info("pipeline: starting cycle",
		zap.String("executable", r.cfg.Extraction.Executable),
		zap.String("subcommand", r.cfg.Extraction.Subcommand),
		zap.String("mode", r.cfg.API.Mode),
	)

	err := r.runCycle(ctx, log, rep)
	r.finish(ctx, log, rep, err)
	return rep, err
}

func (r *Runner) runCycle(ctx context.Context, log *zap.Logger, rep *Report) error {
	if err := r.trackPhase(log, rep, PhaseExtract, func() error {
		code, err := r.deps.Extractor.Run(ctx)
		rep.ExitCode = code
		return err
	}); err != nil {
		return err
	}

	if err := r.sleep(ctx, r.cfg.Extraction.SettleDelay()); err != nil {
		return eris.Wrap(err, "pipeline: settle delay")
	}

	var cand *files.Candidate
	if err := r.trackPhase(log, rep, PhaseDiscover, func() error {
		var err error
		cand, err = r.deps.Finder.FindNewest(ctx)
		return err
	}); err != nil {
		return err
	}
	if cand == nil {
		log.Warn("pipeline: no matching files found in output directory",
			zap.String("output_dir", r.cfg.Files.OutputDir),
			zap.String("file_glob", r.cfg.Files.FileGlob),
		)
		rep.Outcome = monitoring.OutcomeNoFile
		return nil
	}
	rep.setCandidate(cand)
	log = log.With(zap.String("file", cand.Path))
	log.Info("pipeline: found newest file",
		zap.Time("timestamp", cand.Timestamp),
		zap.String("timestamp_source", string(cand.Source)),
	)

	if err := r.stabilize(ctx, log, rep, cand.Path); err != nil {
		return err
	}

	if r.lookupMode() {
		if err := r.enrichAndPost(ctx, log, rep, cand.Path); err != nil {
			return err
		}
	} else if err := r.reshapeAndUpload(ctx, log, rep, cand.Path); err != nil {
		return err
	}

	if err := r.archive(log, rep, cand.Path); err != nil {
		return err
	}
	rep.Outcome = monitoring.OutcomeSuccess
	return nil
}

// Loop runs cycles every loop interval until ctx is cancelled. A failed cycle
// is logged and the loop continues. With an interval of 0 it runs a single
// cycle and returns its error.
func (r *Runner) Loop(ctx context.Context) error {
	interval := r.cfg.Loop.Interval()
	if interval <= 0 {
		_, err := r.RunOnce(ctx)
		return err
	}

	log := zap.L().With(zap.Duration("interval", interval))
	log.Info("pipeline: starting loop")
	for {
		// RunOnce logs and reports its own failure.
		_, _ = r.RunOnce(ctx)
		if ctx.Err() != nil {
			break
		}

		log.Info("pipeline: waiting before next run", zap.Int("interval_seconds", r.cfg.Loop.IntervalSeconds))
		if err := r.sleep(ctx, interval); err != nil {
			break
		}
	}
	log.Info("pipeline: loop stopped")
	return nil
}

// EnrichLatest enriches and posts the newest existing file without running
// the extractor.
func (r *Runner) EnrichLatest(ctx context.Context) (*Report, error) {
	rep := r.newReport()
	log := zap.L().With(zap.String("run_id", rep.RunID))
	log.Info("pipeline: enriching latest file only, no extraction")

	err := r.enrichLatest(ctx, log, rep)
	r.finish(ctx, log, rep, err)
	return rep, err
}

func (r *Runner) enrichLatest(ctx context.Context, log *zap.Logger, rep *Report) error {
	dir := r.cfg.Files.OutputDir
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return eris.Wrapf(ErrOutputDirMissing, "pipeline: %s", dir)
	case err != nil:
		return eris.Wrapf(err, "pipeline: stat output directory %s", dir)
	case !info.IsDir():
		return eris.Wrapf(ErrOutputNotDir, "pipeline: %s", dir)
	}
	if !r.cfg.Lookup.Enabled {
		return ErrLookupDisabled
	}
	if r.cfg.API.Mode != config.ModeLookupEnrich {
		return eris.Wrapf(ErrNotLookupMode, "pipeline: current mode %q", r.cfg.API.Mode)
	}

	var cand *files.Candidate
	if err := r.trackPhase(log, rep, PhaseDiscover, func() error {
		var err error
		cand, err = r.deps.Finder.FindNewest(ctx)
		return err
	}); err != nil {
		return err
	}
	if cand == nil {
		return eris.Wrapf(ErrNoFile, "pipeline: pattern %s", filepath.Join(dir, r.cfg.Files.FileGlob))
	}
	rep.setCandidate(cand)
	log = log.With(zap.String("file", cand.Path))

	info, err = os.Stat(cand.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return eris.Wrapf(ErrNoFile, "pipeline: file no longer exists: %s", cand.Path)
	case err != nil:
		return eris.Wrapf(err, "pipeline: stat %s", cand.Path)
	case !info.Mode().IsRegular():
		return eris.Wrapf(ErrNotAFile, "pipeline: %s", cand.Path)
	}

	if err := r.stabilize(ctx, log, rep, cand.Path); err != nil {
		return err
	}
	if err := r.enrichAndPost(ctx, log, rep, cand.Path); err != nil {
		return err
	}
	if err := r.archive(log, rep, cand.Path); err != nil {
		return err
	}
	rep.Outcome = monitoring.OutcomeSuccess
	return nil
}

func (r *Runner) lookupMode() bool {
	return r.cfg.API.Mode == config.ModeLookupEnrich && r.cfg.Lookup.Enabled
}

func (r *Runner) stabilize(ctx context.Context, log *zap.Logger, rep *Report, path string) error {
	return r.trackPhase(log, rep, PhaseStabilize, func() error {
		outcome, err := r.deps.Gate.AwaitStable(ctx, path)
		if err != nil {
			return err
		}
		rep.Stability = outcome.String()
		return nil
	})
}

func (r *Runner) enrichAndPost(ctx context.Context, log *zap.Logger, rep *Report, path string) error {
	if r.deps.Enricher == nil {
		return eris.New("pipeline: lookup enrichment is enabled but no enricher is configured")
	}
	log.Info("pipeline: using lookup enrichment flow")

	var rows []lookup.Row
	if err := r.trackPhase(log, rep, PhaseEnrich, func() error {
		var err error
		rows, err = r.deps.Enricher.Enrich(ctx, path)
		return err
	}); err != nil {
		return err
	}
	rep.Rows = len(rows)

	return r.trackPhase(log, rep, PhasePost, func() error {
		return r.deps.Enricher.Post(ctx, rows)
	})
}

func (r *Runner) reshapeAndUpload(ctx context.Context, log *zap.Logger, rep *Report, path string) error {
	if r.deps.Uploader == nil {
		return eris.New("pipeline: no uploader is configured")
	}

	uploadPath := path
	if r.cfg.Transform.Enabled {
		if r.deps.Reshaper == nil {
			return eris.New("pipeline: transform is enabled but no reshaper is configured")
		}
		var res *reshape.Result
		if err := r.trackPhase(log, rep, PhaseReshape, func() error {
			var err error
			res, err = r.deps.Reshaper.Reshape(ctx, path)
			return err
		}); err != nil {
			return err
		}
		defer res.Cleanup()
		uploadPath = res.Path
		rep.Rows = res.Rows
	} else {
		rep.skipPhase(PhaseReshape)
	}

	return r.trackPhase(log, rep, PhaseUpload, func() error {
		return r.deps.Uploader.Upload(ctx, uploadPath, filepath.Base(path))
	})
}

func (r *Runner) archive(log *zap.Logger, rep *Report, path string) error {
	if r.deps.Archiver == nil || !r.deps.Archiver.Enabled() {
		rep.skipPhase(PhaseArchive)
		return nil
	}
	return r.trackPhase(log, rep, PhaseArchive, func() error {
		dest, err := r.deps.Archiver.Archive(path)
		rep.ArchivedTo = dest
		return err
	})
}

// trackPhase runs fn, timing it and recording the result on rep.
func (r *Runner) trackPhase(log *zap.Logger, rep *Report, name string, fn func() error) error {
	start := r.now()
	err := fn()
	pr := PhaseResult{Name: name, Duration: r.now().Sub(start)}

	if err != nil {
		pr.Status = PhaseStatusFailed
		pr.Error = err.Error()
		log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Error(err),
			zap.Int64("duration_ms", pr.Duration.Milliseconds()),
		)
	} else {
		pr.Status = PhaseStatusComplete
		log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", pr.Duration.Milliseconds()),
		)
	}
	rep.Phases = append(rep.Phases, pr)
	return err
}

func (r *Runner) newReport() *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: r.now().UTC(),
	}
}

func (r *Runner) finish(ctx context.Context, log *zap.Logger, rep *Report, err error) {
	rep.Duration = r.now().Sub(rep.StartedAt)
	if err != nil {
		rep.Outcome = monitoring.OutcomeFailed
		rep.Error = err.Error()
		log.Error("pipeline: cycle failed",
			zap.Error(err),
			zap.Int64("duration_ms", rep.Duration.Milliseconds()),
		)
	} else {
		log.Info("pipeline: cycle complete",
			zap.String("outcome", string(rep.Outcome)),
			zap.Int("rows", rep.Rows),
			zap.Int64("duration_ms", rep.Duration.Milliseconds()),
		)
	}

	if r.observer != nil {
		// Alerts still go out while shutting down.
		r.observer.Observe(context.WithoutCancel(ctx), monitoring.CycleResult{
			RunID:    rep.RunID,
			Outcome:  rep.Outcome,
			File:     rep.File,
			Rows:     rep.Rows,
			Duration: rep.Duration,
			Err:      err,
		})
	}
}

func (rep *Report) setCandidate(c *files.Candidate) {
	rep.File = c.Path
	rep.FileTimestamp = c.Timestamp
	rep.TimestampSource = c.Source
}

func (rep *Report) skipPhase(name string) {
	rep.Phases = append(rep.Phases, PhaseResult{Name: name, Status: PhaseStatusSkipped})
}
