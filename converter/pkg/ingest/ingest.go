// Package ingest rebuilds adjustments from the line-oriented upstream export. Each
// line is one pipe-delimited record whose first field is its record-type tag.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/adjustment"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/catalog"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/metrics"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/pipe"
)

var (
	ErrUnrecognizedRecord  = errors.New("unrecognized record type")
	ErrNoCurrentAdjustment = errors.New("no current adjustment")
	ErrLocationNotFound    = errors.New("location not found")
	ErrMalformedRecord     = errors.New("malformed record")
)

// RecordError is returned for every fatal ingestion failure and identifies the
// offending line.
type RecordError struct {
	Line int
	Tag  string
	Raw  string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("line %d (%s): %v: %q", e.Line, e.Tag, e.Err, e.Raw)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// VariantResolver lists the color variants of a style, ordered by variant code.
type VariantResolver interface {
	SortedVariants(style string) []catalog.Variant
}

type Config struct {
	Logger  *slog.Logger
	Catalog VariantResolver
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Empty()
	}
	return nil
}

// Stats counts what one stream produced.
type Stats struct {
	Records          map[string]int
	ExpandedStyles   int
	UnexpandedStyles int
	OverridesApplied int
	OverridesDropped int
}

// overrideKey identifies an expanded fact. Variant codes are unique across styles.
type overrideKey struct {
	location string
	variant  string
}

// Ingestor is the record-dispatch state machine. It holds at most one open
// adjustment; every record except a header mutates it. An Ingestor is not safe for
// concurrent use and is meant for a single stream.
type Ingestor struct {
	log     *slog.Logger
	catalog VariantResolver

	current     *adjustment.Adjustment
	adjustments []*adjustment.Adjustment
	positions   map[string]int

	// expansions indexes the current adjustment's style-expansion facts.
	expansions map[overrideKey]int

	lineNo int
	stats  Stats
}

func New(cfg Config) (*Ingestor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ingestor{
		log:       cfg.Logger,
		catalog:   cfg.Catalog,
		positions: make(map[string]int),
		stats:     Stats{Records: make(map[string]int)},
	}, nil
}

// Ingest processes every line of r. It stops at the first fatal record. Errors carry
// the line number within r.
func (in *Ingestor) Ingest(r io.Reader) error {
	return pipe.Scan(r, func(lineNo int, line string) error {
		in.lineNo = lineNo
		return in.dispatch(line)
	})
}

// ProcessLine dispatches one record, numbering it after the last line seen.
func (in *Ingestor) ProcessLine(line string) error {
	in.lineNo++
	return in.dispatch(line)
}

func (in *Ingestor) dispatch(line string) error {
	f := pipe.Split(line)
	tag := f.Get(0)

	handle, ok := recordHandlers[tag]
	if !ok {
		return in.recordError(tag, line, ErrUnrecognizedRecord)
	}
	if tag != TagAdjustment && in.current == nil {
		return in.recordError(tag, line, ErrNoCurrentAdjustment)
	}

	in.stats.Records[tag]++
	metrics.RecordsTotal.WithLabelValues(tag).Inc()

	if err := handle(in, f); err != nil {
		return in.recordError(tag, line, err)
	}
	return nil
}

func (in *Ingestor) recordError(tag, raw string, err error) error {
	return &RecordError{Line: in.lineNo, Tag: tag, Raw: raw, Err: err}
}

// Current returns the open adjustment, or nil before the first header record.
func (in *Ingestor) Current() *adjustment.Adjustment {
	return in.current
}

// Adjustments returns every adjustment of the stream in first-seen order.
func (in *Ingestor) Adjustments() []*adjustment.Adjustment {
	out := make([]*adjustment.Adjustment, len(in.adjustments))
	copy(out, in.adjustments)
	return out
}

func (in *Ingestor) Stats() Stats {
	s := in.stats
	s.Records = make(map[string]int, len(in.stats.Records))
	for k, v := range in.stats.Records {
		s.Records[k] = v
	}
	return s
}

// open closes the current adjustment and makes a the open one. A header that reuses
// an earlier id replaces that adjustment in place.
func (in *Ingestor) open(a *adjustment.Adjustment) {
	if pos, ok := in.positions[a.ID]; ok {
		in.log.Warn("ingest: adjustment header repeated, replacing earlier adjustment", "adjustment", a.ID, "line", in.lineNo)
		in.adjustments[pos] = a
	} else {
		in.positions[a.ID] = len(in.adjustments)
		in.adjustments = append(in.adjustments, a)
	}
	if in.current != nil {
		in.log.Debug("ingest: adjustment closed", "adjustment", in.current.ID, "items", len(in.current.Items))
	}
	in.current = a
	in.expansions = make(map[overrideKey]int)
}
