// Package archive records every produced pricing event in ClickHouse, one row per
// event item, so past conversions can be queried after the import files are gone.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/adjustment"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/clickhouse"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/consolidate"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/metrics"
	"github.com/GeorgeGarkavenko/guess/utils/pkg/retry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	ItemTable = "fact_pricing_event_item"
	RunTable  = "fact_archive_run"
)

// itemColumns must follow the table's column order.
var itemColumns = []string{
	"run_id", "source", "adjustment_id", "adjustment_name", "event_name",
	"group_index", "page_index", "locations", "style", "color", "variant",
	"currency", "price", "start_date", "end_date", "archived_at",
}

type Config struct {
	Logger *slog.Logger
	Client clickhouse.Client
	Clock  clockwork.Clock
	Retry  retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

type Store struct {
	log    *slog.Logger
	cfg    Config
	client clickhouse.Client
}

func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg, client: cfg.Client}, nil
}

// Run identifies one conversion of one source file.
type Run struct {
	ID        uuid.UUID
	Source    string
	StartedAt time.Time
}

func (s *Store) NewRun(source string) Run {
	return Run{ID: uuid.New(), Source: source, StartedAt: s.cfg.Clock.Now().UTC()}
}

// RunSummary is what a finished run produced.
type RunSummary struct {
	Adjustments int
	Events      int
	Items       int
}

// WriteEvents archives one row per item of every event. It returns the number of
// rows written.
func (s *Store) WriteEvents(ctx context.Context, run Run, adj *adjustment.Adjustment, events []consolidate.PricingEvent) (int, error) {
	archivedAt := s.cfg.Clock.Now().UTC()
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		for _, it := range ev.Items {
			rows = append(rows, []any{
				run.ID,
				run.Source,
				adj.ID,
				adj.Name,
				ev.Name,
				uint32(ev.GroupIndex),
				uint32(ev.PageIndex),
				ev.Locations,
				it.Style,
				it.Color,
				it.Variant,
				it.Currency,
				it.Amount,
				dateColumn(it.StartDate),
				dateColumn(it.EndDate),
				archivedAt,
			})
		}
	}

	if err := s.insert(ctx, ItemTable, len(itemColumns), rows); err != nil {
		metrics.ArchiveRowsTotal.WithLabelValues("error").Add(float64(len(rows)))
		return 0, fmt.Errorf("failed to archive adjustment %s: %w", adj.ID, err)
	}
	metrics.ArchiveRowsTotal.WithLabelValues("success").Add(float64(len(rows)))
	s.log.Debug("archive: events written", "run", run.ID, "adjustment", adj.ID, "events", len(events), "rows", len(rows))
	return len(rows), nil
}

// FinishRun records the run summary.
func (s *Store) FinishRun(ctx context.Context, run Run, sum RunSummary) error {
	row := []any{
		run.ID,
		run.Source,
		uint32(sum.Adjustments),
		uint32(sum.Events),
		uint32(sum.Items),
		run.StartedAt,
		s.cfg.Clock.Now().UTC(),
	}
	if err := s.insert(ctx, RunTable, len(row), [][]any{row}); err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// insert sends rows in a single batch. A failed send is retried with a fresh batch.
func (s *Store) insert(ctx context.Context, table string, cols int, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	return retry.Do(ctx, s.cfg.Retry, func() error {
		conn, err := s.client.Conn(ctx)
		if err != nil {
			return fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()

		batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", table))
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		defer batch.Close()

		for i, row := range rows {
			if len(row) != cols {
				return retry.Permanent(fmt.Errorf("row %d has %d columns, expected %d", i, len(row), cols))
			}
			if err := batch.Append(row...); err != nil {
				return retry.Permanent(fmt.Errorf("failed to append row %d: %w", i, err))
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
		return nil
	})
}

var epoch = time.Unix(0, 0).UTC()

// dateColumn maps an open (zero) date to the earliest value a Date column holds.
func dateColumn(t time.Time) time.Time {
	if t.Before(epoch) {
		return epoch
	}
	return t
}

// CountRunItems returns how many item rows a run archived.
func (s *Store) CountRunItems(ctx context.Context, runID uuid.UUID) (uint64, error) {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, fmt.Sprintf("SELECT count() FROM %s WHERE run_id = ?", ItemTable), runID)
	if err != nil {
		return 0, fmt.Errorf("failed to count run items: %w", err)
	}
	defer rows.Close()

	var n uint64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to scan count: %w", err)
		}
	}
	return n, rows.Err()
}
