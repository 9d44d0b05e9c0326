package converter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/adjustment"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/archive"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/catalog"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/consolidate"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/export"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/ingest"
	guesstesting "github.com/GeorgeGarkavenko/guess/utils/pkg/testing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// finnishCopy is the back-to-school adjustment again under another id, for a
// country that has no date format.
var finnishCopy = strings.Replace(
	strings.Replace(guesstesting.BackToSchoolExport, "A|A25E3EE9AFA248A79DF07D2565410784|", "A|FIN1|", 1),
	"V|Country|USA|", "V|Country|FIN|", 1)

type fakeArchive struct {
	mu       sync.Mutex
	written  map[string]int
	finished []archive.RunSummary
}

func (f *fakeArchive) NewRun(source string) archive.Run {
	return archive.Run{ID: uuid.New(), Source: source}
}

func (f *fakeArchive) WriteEvents(_ context.Context, _ archive.Run, adj *adjustment.Adjustment, events []consolidate.PricingEvent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range events {
		n += len(ev.Items)
	}
	if f.written == nil {
		f.written = map[string]int{}
	}
	f.written[adj.ID] += n
	return n, nil
}

func (f *fakeArchive) FinishRun(_ context.Context, _ archive.Run, sum archive.RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, sum)
	return nil
}

// otherCopy is the back-to-school adjustment again under another id and the same name.
var otherCopy = strings.Replace(guesstesting.BackToSchoolExport, "A|A25E3EE9AFA248A79DF07D2565410784|", "A|OTHER|", 1)

type failingSink struct{}

func (failingSink) Name() string { return "failing" }
func (failingSink) Write(context.Context, string, export.Format, []byte) error {
	return errors.New("disk full")
}
func (failingSink) Remove(context.Context, string) error { return nil }

// fullAfterSink accepts n writes, then fails every later one.
type fullAfterSink struct {
	*export.DirSink
	mu sync.Mutex
	n  int
}

func (s *fullAfterSink) Write(ctx context.Context, name string, f export.Format, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == 0 {
		return errors.New("disk full")
	}
	s.n--
	return s.DirSink.Write(ctx, name, f, data)
}

func newConverter(t *testing.T, cfg Config) (*Converter, string) {
	t.Helper()
	log := guesstesting.NewLogger()
	cat, err := catalog.Load(strings.NewReader(guesstesting.BackToSchoolCatalog), catalog.Options{Logger: log})
	require.NoError(t, err)

	dir := t.TempDir()
	if cfg.Sink == nil {
		sink, err := export.NewDirSink(dir)
		require.NoError(t, err)
		cfg.Sink = sink
	}
	cfg.Logger = log
	cfg.Catalog = cat
	c, err := New(cfg)
	require.NoError(t, err)
	return c, dir
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestGuess_Converter_Config(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	sink, err := export.NewDirSink(t.TempDir())
	require.NoError(t, err)
	_, err = New(Config{Logger: guesstesting.NewLogger(), Sink: sink, Format: "csv"})
	require.Error(t, err)
	_, err = New(Config{Logger: guesstesting.NewLogger(), Sink: sink, MaxLocations: -1})
	require.Error(t, err)

	c, err := New(Config{Logger: guesstesting.NewLogger(), Sink: sink})
	require.NoError(t, err)
	require.Equal(t, export.FormatTSV, c.cfg.Format)
	require.Positive(t, c.cfg.Concurrency)
}

func TestGuess_Converter_ConvertFile(t *testing.T) {
	t.Parallel()

	t.Run("one file per event", func(t *testing.T) {
		t.Parallel()

		c, dir := newConverter(t, Config{})
		path := guesstesting.WriteFile(t, "export.txt", guesstesting.BackToSchoolExport)

		res, err := c.ConvertFile(context.Background(), path)
		require.NoError(t, err)
		require.NoError(t, res.Err())
		require.Equal(t, "export.txt", res.Source)
		require.Equal(t, 1, res.Adjustments)
		require.Equal(t, 2, res.Events)
		require.Equal(t, 2, res.Stats.ExpandedStyles)
		require.Equal(t, []string{
			"Back_to_school_10_off_001_001.tsv",
			"Back_to_school_10_off_002_001.tsv",
		}, res.Files)
		require.Equal(t, res.Files, listDir(t, dir))

		data, err := os.ReadFile(filepath.Join(dir, "Back_to_school_10_off_001_001.tsv"))
		require.NoError(t, err)
		lines := guesstesting.Lines(string(data))
		require.Len(t, lines, 5)
		require.Equal(t, "L\t5012", lines[2])
		require.True(t, strings.HasPrefix(lines[4], "76074 32\t"))
	})

	t.Run("zones replace covered stores", func(t *testing.T) {
		t.Parallel()

		zones := adjustment.Zones{}
		zones.Add("100", "5012", "5501")
		c, dir := newConverter(t, Config{Zones: zones, Format: export.FormatXLSX})

		res, err := c.Convert(context.Background(), "export.txt", strings.NewReader(guesstesting.BackToSchoolExport))
		require.NoError(t, err)
		require.Equal(t, []string{
			"Back_to_school_10_off_001_001.xlsx",
			"Back_to_school_10_off_002_001.xlsx",
		}, listDir(t, dir))
		require.Len(t, res.Files, 2)
	})

	t.Run("a failed adjustment writes nothing and the rest still converts", func(t *testing.T) {
		t.Parallel()

		arc := &fakeArchive{}
		c, dir := newConverter(t, Config{Archive: arc})

		res, err := c.Convert(context.Background(), "two.txt", strings.NewReader(guesstesting.BackToSchoolExport+finnishCopy))
		require.NoError(t, err)
		require.Equal(t, 2, res.Adjustments)
		require.Len(t, res.Failed, 1)
		require.Equal(t, "FIN1", res.Failed[0].AdjustmentID)
		require.ErrorIs(t, res.Err(), adjustment.ErrUnsupportedCountry)
		require.Len(t, listDir(t, dir), 2)

		require.Equal(t, 7, res.Archived)
		require.Equal(t, 7, arc.written["A25E3EE9AFA248A79DF07D2565410784"])
		require.NotContains(t, arc.written, "FIN1")
		require.Equal(t, []archive.RunSummary{{Adjustments: 1, Events: 2, Items: 7}}, arc.finished)
	})

	t.Run("a stream error aborts the source", func(t *testing.T) {
		t.Parallel()

		c, dir := newConverter(t, Config{})
		res, err := c.Convert(context.Background(), "bad.txt", strings.NewReader("D|orphan|\n"))
		require.ErrorIs(t, err, ingest.ErrNoCurrentAdjustment)
		require.NotNil(t, res)
		require.Empty(t, listDir(t, dir))
	})

	t.Run("a sink failure fails the adjustment", func(t *testing.T) {
		t.Parallel()

		c, _ := newConverter(t, Config{Sink: failingSink{}})
		res, err := c.Convert(context.Background(), "export.txt", strings.NewReader(guesstesting.BackToSchoolExport))
		require.NoError(t, err)
		require.Len(t, res.Failed, 1)
		require.ErrorContains(t, res.Err(), "disk full")
		require.Empty(t, res.Files)
	})

	t.Run("a sink failure midway removes what was written", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		ds, err := export.NewDirSink(dir)
		require.NoError(t, err)
		arc := &fakeArchive{}
		c, _ := newConverter(t, Config{Sink: &fullAfterSink{DirSink: ds, n: 1}, Archive: arc})

		res, err := c.Convert(context.Background(), "export.txt", strings.NewReader(guesstesting.BackToSchoolExport))
		require.NoError(t, err)
		require.Len(t, res.Failed, 1)
		require.ErrorContains(t, res.Err(), "disk full")
		require.Empty(t, res.Files)
		require.Zero(t, res.Events)
		require.Empty(t, listDir(t, dir))
		require.Empty(t, arc.written)
	})

	t.Run("adjustments sharing a name get distinct files", func(t *testing.T) {
		t.Parallel()

		c, dir := newConverter(t, Config{})
		res, err := c.Convert(context.Background(), "two.txt", strings.NewReader(guesstesting.BackToSchoolExport+otherCopy))
		require.NoError(t, err)
		require.NoError(t, res.Err())
		require.Equal(t, 2, res.Adjustments)
		require.Equal(t, 4, res.Events)
		require.Equal(t, []string{
			"Back_to_school_10_off_001_001.tsv",
			"Back_to_school_10_off_002_001.tsv",
			"Back_to_school_10_off_OTHER_001_001.tsv",
			"Back_to_school_10_off_OTHER_002_001.tsv",
		}, res.Files)
		require.Equal(t, res.Files, listDir(t, dir))
	})

	t.Run("missing input", func(t *testing.T) {
		t.Parallel()

		c, _ := newConverter(t, Config{})
		_, err := c.ConvertFile(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestGuess_Converter_ConvertFiles(t *testing.T) {
	t.Parallel()

	c, dir := newConverter(t, Config{Concurrency: 2})
	good := guesstesting.WriteFile(t, "good.txt", guesstesting.BackToSchoolExport)
	bad := guesstesting.WriteFile(t, "bad.txt", "X|what\n")
	fin := guesstesting.WriteFile(t, "fin.txt", finnishCopy)

	results, err := c.ConvertFiles(context.Background(), []string{good, bad, fin})
	require.Error(t, err)
	require.ErrorIs(t, err, ingest.ErrUnrecognizedRecord)
	require.ErrorIs(t, err, adjustment.ErrUnsupportedCountry)
	require.Len(t, results, 3)

	require.Equal(t, "good.txt", results[0].Source)
	require.Equal(t, 2, results[0].Events)
	require.Empty(t, results[0].Failed)
	require.Zero(t, results[1].Adjustments)
	require.Len(t, results[2].Failed, 1)
	require.Len(t, listDir(t, dir), 2)
}

func TestGuess_Converter_ConvertFiles_SharedNames(t *testing.T) {
	t.Parallel()

	c, dir := newConverter(t, Config{Concurrency: 2})
	first := guesstesting.WriteFile(t, "first.txt", guesstesting.BackToSchoolExport)
	second := guesstesting.WriteFile(t, "second.txt", guesstesting.BackToSchoolExport)

	results, err := c.ConvertFiles(context.Background(), []string{first, second})
	require.ErrorIs(t, err, ErrDuplicateFileName)
	require.Len(t, results, 2)

	// Whichever file claims the names first keeps them; the other is reported.
	var files, failed int
	for _, res := range results {
		files += len(res.Files)
		failed += len(res.Failed)
	}
	require.Equal(t, 2, files)
	require.Equal(t, 1, failed)
	require.Len(t, listDir(t, dir), 2)
}
