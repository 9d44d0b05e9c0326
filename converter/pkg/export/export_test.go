package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/adjustment"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/consolidate"
	"github.com/GeorgeGarkavenko/guess/utils/pkg/retry"
	guesstesting "github.com/GeorgeGarkavenko/guess/utils/pkg/testing"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testEvent(t *testing.T) consolidate.PricingEvent {
	t.Helper()
	a := adjustment.New("A1", "", "Back to school 10% off", "", "Promotion % Off")
	a.Schedule = adjustment.OpenSchedule(time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2016, 6, 30, 0, 0, 0, 0, time.UTC))
	for _, p := range adjustment.RequiredParameters {
		a.SetParameter(p, adjustment.Parameter{})
	}
	a.SetParameter(adjustment.ParamCountry, adjustment.Parameter{Value: "USA"})
	a.SetParameter(adjustment.ParamPriceCode, adjustment.Parameter{Value: "2"})
	h, err := a.Header()
	require.NoError(t, err)

	return consolidate.PricingEvent{
		AdjustmentID: a.ID,
		Name:         "Back_to_school_10_off_001_001",
		GroupIndex:   1,
		PageIndex:    1,
		PageCount:    1,
		Header:       h,
		Locations:    []string{"100", "5012"},
		Items: []adjustment.ItemPrice{
			{Style: "23002G3", Color: "RED", Variant: "11066278", Price: "1200"},
			{Style: "76074 32", Color: "", Price: "123.456"},
		},
	}
}

func TestGuess_Export_Rows(t *testing.T) {
	t.Parallel()

	ev := testEvent(t)
	rows := Rows(ev)
	require.Len(t, rows, 6)
	require.Equal(t, ev.Header.Labels(), rows[0])
	require.Equal(t, []string{"H", "Back to school 10% off", "2", "", "", "USA", "", "", "", "2016-06-01", "2016-06-30", ""}, rows[1])
	require.Equal(t, []string{"L", "100", "5012"}, rows[2])
	require.Equal(t, []string{"Style", "Color", "NewPrice"}, rows[3])
	require.Equal(t, []string{"23002G3", "RED", "1200"}, rows[4])
	require.Equal(t, []string{"76074 32", "", "123.456"}, rows[5])

	rows[3][0] = "changed"
	require.Equal(t, "Style", ItemHeader[0])
}

func TestGuess_Export_Format(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Format{"": FormatTSV, "tsv": FormatTSV, " XLSX ": FormatXLSX} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseFormat("csv")
	require.Error(t, err)

	ev := testEvent(t)
	require.Equal(t, "Back_to_school_10_off_001_001.tsv", FileName(ev, FormatTSV))
	require.Equal(t, "Back_to_school_10_off_001_001.xlsx", FileName(ev, FormatXLSX))
	require.Equal(t, "text/tab-separated-values", FormatTSV.ContentType())

	require.Error(t, Encode(io.Discard, Format("pdf"), nil))
}

func TestGuess_Export_TSV(t *testing.T) {
	t.Parallel()

	ev := testEvent(t)
	data, err := Marshal(ev, FormatTSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 6)
	require.Equal(t, "L\t100\t5012", lines[2])
	require.Equal(t, "Style\tColor\tNewPrice", lines[3])
	require.Equal(t, "76074 32\t\t123.456", lines[5])

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	got, err := r.ReadAll()
	require.NoError(t, err)
	require.Equal(t, Rows(ev), got)
}

func TestGuess_Export_XLSX(t *testing.T) {
	t.Parallel()

	ev := testEvent(t)
	data, err := Marshal(ev, FormatXLSX)
	require.NoError(t, err)

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	require.Equal(t, []string{SheetName}, xl.GetSheetList())
	rows, err := xl.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	require.Equal(t, []string{"L", "100", "5012"}, rows[2])
	require.Equal(t, []string{"23002G3", "RED", "1200"}, rows[4])
	require.Equal(t, "76074 32", rows[5][0])
	require.Equal(t, "123.456", rows[5][2])
}

func TestGuess_Export_DirSink(t *testing.T) {
	t.Parallel()

	t.Run("writes files atomically", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "out")
		sink, err := NewDirSink(dir)
		require.NoError(t, err)
		require.Equal(t, "dir", sink.Name())

		require.NoError(t, sink.Write(context.Background(), "a.tsv", FormatTSV, []byte("x\ty\n")))
		require.NoError(t, sink.Write(context.Background(), "a.tsv", FormatTSV, []byte("z\n")))

		data, err := os.ReadFile(filepath.Join(dir, "a.tsv"))
		require.NoError(t, err)
		require.Equal(t, "z\n", string(data))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1, "no temp files are left behind")
	})

	t.Run("rejects paths and cancelled contexts", func(t *testing.T) {
		t.Parallel()

		sink, err := NewDirSink(t.TempDir())
		require.NoError(t, err)
		require.Error(t, sink.Write(context.Background(), "../escape.tsv", FormatTSV, nil))
		require.Error(t, sink.Write(context.Background(), "", FormatTSV, nil))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, sink.Write(ctx, "a.tsv", FormatTSV, nil), context.Canceled)

		_, err = NewDirSink("")
		require.Error(t, err)
	})

	t.Run("removes files", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		sink, err := NewDirSink(dir)
		require.NoError(t, err)
		require.NoError(t, sink.Write(context.Background(), "a.tsv", FormatTSV, []byte("x\n")))

		require.NoError(t, sink.Remove(context.Background(), "a.tsv"))
		_, err = os.Stat(filepath.Join(dir, "a.tsv"))
		require.ErrorIs(t, err, os.ErrNotExist)

		require.NoError(t, sink.Remove(context.Background(), "a.tsv"), "already gone")
		require.Error(t, sink.Remove(context.Background(), "../a.tsv"))
	})
}

type fakeS3 struct {
	mu     sync.Mutex
	fail   []error
	inputs  []*s3.PutObjectInput
	bodies  [][]byte
	deletes []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	if len(f.fail) > 0 {
		err, f.fail = f.fail[0], f.fail[1:]
		return nil, err
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestGuess_Export_S3Sink(t *testing.T) {
	t.Parallel()

	fastRetry := retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	t.Run("validates config", func(t *testing.T) {
		t.Parallel()

		_, err := NewS3Sink(S3Config{})
		require.Error(t, err)
		_, err = NewS3Sink(S3Config{Logger: guesstesting.NewLogger(), Client: &fakeS3{}})
		require.Error(t, err)
	})

	t.Run("uploads under the prefix", func(t *testing.T) {
		t.Parallel()

		client := &fakeS3{}
		sink, err := NewS3Sink(S3Config{Logger: guesstesting.NewLogger(), Client: client, Bucket: "exports", Prefix: "/pricing/2016/"})
		require.NoError(t, err)
		require.Equal(t, "pricing/2016/a.xlsx", sink.Key("a.xlsx"))

		require.NoError(t, sink.Write(context.Background(), "a.xlsx", FormatXLSX, []byte("data")))
		require.Len(t, client.inputs, 1)
		in := client.inputs[0]
		require.Equal(t, "exports", *in.Bucket)
		require.Equal(t, "pricing/2016/a.xlsx", *in.Key)
		require.Equal(t, FormatXLSX.ContentType(), *in.ContentType)
		require.Equal(t, []byte("data"), client.bodies[0])

		require.NoError(t, sink.Remove(context.Background(), "a.xlsx"))
		require.Equal(t, []string{"pricing/2016/a.xlsx"}, client.deletes)
	})

	t.Run("retries transient failures with a fresh body", func(t *testing.T) {
		t.Parallel()

		client := &fakeS3{fail: []error{errors.New("connection reset"), errors.New("service unavailable")}}
		sink, err := NewS3Sink(S3Config{Logger: guesstesting.NewLogger(), Client: client, Bucket: "exports", Retry: fastRetry})
		require.NoError(t, err)

		require.NoError(t, sink.Write(context.Background(), "a.tsv", FormatTSV, []byte("row")))
		require.Len(t, client.inputs, 3)
		require.Equal(t, []byte("row"), client.bodies[2])
		require.Equal(t, "a.tsv", *client.inputs[2].Key)
	})

	t.Run("gives up on permanent failures", func(t *testing.T) {
		t.Parallel()

		client := &fakeS3{fail: []error{errors.New("access denied")}}
		sink, err := NewS3Sink(S3Config{Logger: guesstesting.NewLogger(), Client: client, Bucket: "exports", Retry: fastRetry})
		require.NoError(t, err)

		err = sink.Write(context.Background(), "a.tsv", FormatTSV, []byte("row"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "s3://exports/a.tsv")
		require.Len(t, client.inputs, 1)
	})
}
