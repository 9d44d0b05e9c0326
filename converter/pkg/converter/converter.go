// Package converter runs whole conversions: one upstream export file in, one import
// file per pricing event out, optionally archived to ClickHouse.
package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/adjustment"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/archive"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/consolidate"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/export"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/ingest"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/metrics"
	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Archiver keeps a queryable record of produced events.
type Archiver interface {
	NewRun(source string) archive.Run
	WriteEvents(ctx context.Context, run archive.Run, adj *adjustment.Adjustment, events []consolidate.PricingEvent) (int, error)
	FinishRun(ctx context.Context, run archive.Run, sum archive.RunSummary) error
}

type Config struct {
	Logger       *slog.Logger
	Catalog      ingest.VariantResolver
	Zones        adjustment.Zones
	MaxLocations int
	Format       export.Format
	Sink         export.Sink
	// Archive is optional.
	Archive Archiver
	// Concurrency bounds how many files ConvertFiles processes at once.
	Concurrency int
	Clock       clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Sink == nil {
		return errors.New("sink is required")
	}
	if cfg.Format == "" {
		cfg.Format = export.FormatTSV
	}
	if _, err := export.ParseFormat(string(cfg.Format)); err != nil {
		return err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// ErrDuplicateFileName is returned for an adjustment whose export file name was
// already produced by another adjustment of the same Converter.
var ErrDuplicateFileName = errors.New("export file name already in use")

type Converter struct {
	log    *slog.Logger
	cfg    Config
	engine *consolidate.Engine

	// claimed maps every export file name written, or being written, to the
	// adjustment that owns it. All sources of one Converter share the sink.
	mu      sync.Mutex
	claimed map[string]string
}

func New(cfg Config) (*Converter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := consolidate.New(consolidate.Config{Logger: cfg.Logger, MaxLocations: cfg.MaxLocations})
	if err != nil {
		return nil, err
	}
	return &Converter{log: cfg.Logger, cfg: cfg, engine: engine, claimed: make(map[string]string)}, nil
}

// AdjustmentError is a consolidation or output failure confined to one adjustment.
type AdjustmentError struct {
	AdjustmentID string
	Err          error
}

func (e *AdjustmentError) Error() string {
	return fmt.Sprintf("adjustment %s: %v", e.AdjustmentID, e.Err)
}

func (e *AdjustmentError) Unwrap() error {
	return e.Err
}

// Result describes one converted source.
type Result struct {
	Source      string
	Adjustments int
	Files       []string
	Events      int
	Archived    int
	Failed      []*AdjustmentError
	Stats       ingest.Stats
	Duration    time.Duration
}

// Err joins the adjustment failures, or returns nil when there were none.
func (r *Result) Err() error {
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// ConvertFile converts the export at path.
func (c *Converter) ConvertFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	return c.Convert(ctx, filepath.Base(path), f)
}

// Convert ingests r completely before producing anything. A stream error aborts the
// whole source. After that every adjustment succeeds or fails on its own: a failed
// adjustment writes no files and is reported in Result.Failed.
func (c *Converter) Convert(ctx context.Context, source string, r io.Reader) (res *Result, err error) {
	span := sentry.StartSpan(ctx, "convert.source", sentry.WithDescription(fmt.Sprintf("convert %s", source)))
	span.SetData("format", string(c.cfg.Format))
	span.SetData("sink", c.cfg.Sink.Name())
	ctx = span.Context()
	defer span.Finish()

	start := c.cfg.Clock.Now()
	res = &Result{Source: source}
	defer func() {
		res.Duration = c.cfg.Clock.Since(start)
		status := "success"
		span.Status = sentry.SpanStatusOK
		if err != nil || len(res.Failed) > 0 {
			status = "error"
			span.Status = sentry.SpanStatusInternalError
		}
		span.SetData("events", res.Events)
		metrics.ConversionDuration.WithLabelValues(status).Observe(res.Duration.Seconds())
	}()

	in, err := ingest.New(ingest.Config{Logger: c.log, Catalog: c.cfg.Catalog})
	if err != nil {
		return res, err
	}
	if err := in.Ingest(r); err != nil {
		return res, fmt.Errorf("failed to ingest %s: %w", source, err)
	}
	res.Stats = in.Stats()
	adjustments := in.Adjustments()
	res.Adjustments = len(adjustments)

	var run archive.Run
	if c.cfg.Archive != nil {
		run = c.cfg.Archive.NewRun(source)
	}

	// Adjustments sharing a display name within one source are told apart by id.
	bases := make(map[string]string, len(adjustments))
	for _, a := range adjustments {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		base := consolidate.EventBaseName(a)
		if owner, ok := bases[base]; ok && owner != a.ID {
			base = consolidate.QualifiedBaseName(a)
		}
		bases[base] = a.ID

		files, events, archived, err := c.convertAdjustment(ctx, run, source, a, base)
		if err != nil {
			metrics.AdjustmentsTotal.WithLabelValues("error").Inc()
			c.log.Error("converter: adjustment failed", "source", source, "adjustment", a.ID, "error", err)
			res.Failed = append(res.Failed, &AdjustmentError{AdjustmentID: a.ID, Err: err})
			continue
		}
		metrics.AdjustmentsTotal.WithLabelValues("success").Inc()
		res.Files = append(res.Files, files...)
		res.Events += events
		res.Archived += archived
	}

	if c.cfg.Archive != nil {
		sum := archive.RunSummary{Adjustments: res.Adjustments - len(res.Failed), Events: res.Events, Items: res.Archived}
		if err := c.cfg.Archive.FinishRun(ctx, run, sum); err != nil {
			c.log.Warn("converter: failed to record archive run", "source", source, "error", err)
		}
	}

	c.log.Info("converter: source converted",
		"source", source, "adjustments", res.Adjustments, "events", res.Events,
		"failed", len(res.Failed), "overrides_dropped", res.Stats.OverridesDropped)
	return res, nil
}

func (c *Converter) convertAdjustment(ctx context.Context, run archive.Run, source string, a *adjustment.Adjustment, base string) (files []string, events, archived int, err error) {
	a.Zones = c.cfg.Zones
	evs, err := c.engine.EventsNamed(a, base)
	if err != nil {
		return nil, 0, 0, err
	}

	names := make([]string, len(evs))
	for i, ev := range evs {
		names[i] = export.FileName(ev, c.cfg.Format)
	}
	if err := c.claim(source+"/"+a.ID, names); err != nil {
		return nil, 0, 0, err
	}
	defer func() {
		if err != nil {
			c.discard(source, files)
			c.release(names)
			files = nil
		}
	}()

	// Render every file before writing any so that an encoding failure leaves nothing
	// behind for this adjustment.
	rendered := make([][]byte, len(evs))
	for i, ev := range evs {
		if rendered[i], err = export.Marshal(ev, c.cfg.Format); err != nil {
			return nil, 0, 0, err
		}
	}
	for i, name := range names {
		if err = c.cfg.Sink.Write(ctx, name, c.cfg.Format, rendered[i]); err != nil {
			return files, 0, 0, err
		}
		files = append(files, name)
	}

	if c.cfg.Archive != nil {
		if archived, err = c.cfg.Archive.WriteEvents(ctx, run, a, evs); err != nil {
			return files, 0, 0, err
		}
	}
	return files, len(evs), archived, nil
}

// claim reserves names for owner, all or none.
func (c *Converter) claim(owner string, names []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if prev, ok := c.claimed[name]; ok {
			return fmt.Errorf("%w: %s already written for %s", ErrDuplicateFileName, name, prev)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("%w: %s produced twice", ErrDuplicateFileName, name)
		}
		seen[name] = struct{}{}
	}
	for _, name := range names {
		c.claimed[name] = owner
	}
	return nil
}

func (c *Converter) release(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		delete(c.claimed, name)
	}
}

// discard removes files already written for a failed adjustment. It runs on a fresh
// context so that cancellation does not leave them behind.
func (c *Converter) discard(source string, files []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, name := range files {
		if err := c.cfg.Sink.Remove(ctx, name); err != nil {
			c.log.Error("converter: failed to remove partial output", "source", source, "file", name, "error", err)
		}
	}
}

// ConvertFiles converts paths concurrently. A failing file does not stop the others.
// Results are returned in the order of paths; the error joins every file failure.
func (c *Converter) ConvertFiles(ctx context.Context, paths []string) ([]*Result, error) {
	results := make([]*Result, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, path := range paths {
		g.Go(func() error {
			res, err := c.ConvertFile(gctx, path)
			if err == nil {
				err = res.Err()
			}
			results[i], errs[i] = res, err
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", path, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
