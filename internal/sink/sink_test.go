package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/newswire"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 8, 30, 14, 30, 5, 0, time.UTC)

func testRecord(i int) newswire.ExtractionRecord {
	return newswire.ExtractionRecord{
		URL:          fmt.Sprintf("https://example.com/a/%d", i),
		FetchedAt:    testNow,
		Title:        fmt.Sprintf("Title %d", i),
		PublishDate:  "2026-08-30T09:00:00Z",
		Content:      "Body text.",
		Source:       "example.com",
		Keywords:     []string{"oil", "opec"},
		Summary:      "Summary.",
		MarketType:   "commodities",
		Sentiment:    "bearish",
		MarketImpact: "high",
		Language:     "en",
		Status:       string(newswire.TaskStatusSuccess),
	}
}

func newCSVSink(t *testing.T, batchSize int) (*BatchSink, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "out", "articles")
	s, err := New(Config{BaseFilename: base, BatchSize: batchSize, Format: "csv"},
		fakeClock{now: testNow}, zap.NewNop())
	require.NoError(t, err)
	return s, base
}

func outputFiles(t *testing.T, base string) []string {
	t.Helper()
	matches, err := filepath.Glob(base + "_*")
	require.NoError(t, err)
	var files []string
	for _, m := range matches {
		info, err := os.Stat(m)
		require.NoError(t, err)
		if !info.IsDir() {
			files = append(files, m)
		}
	}
	return files
}

func TestSinkRejectsBadConfig(t *testing.T) {
	t.Parallel()

	clock := fakeClock{now: testNow}
	_, err := New(Config{BaseFilename: "x", BatchSize: 0, Format: "csv"}, clock, zap.NewNop())
	require.Error(t, err)

	_, err = New(Config{BaseFilename: "", BatchSize: 1, Format: "csv"}, clock, zap.NewNop())
	require.Error(t, err)

	_, err = New(Config{BaseFilename: "x", BatchSize: 1, Format: "avro"}, clock, zap.NewNop())
	require.ErrorContains(t, err, "unsupported output format")
}

func TestSinkFlushesExactlyAtBatchSize(t *testing.T) {
	t.Parallel()

	const batchSize = 100
	s, base := newCSVSink(t, batchSize)
	ctx := context.Background()

	for i := 0; i < batchSize-1; i++ {
		require.NoError(t, s.Add(ctx, testRecord(i)))
	}
	require.Empty(t, outputFiles(t, base), "flushed before the batch filled")
	require.Equal(t, batchSize-1, s.Len())

	require.NoError(t, s.Add(ctx, testRecord(batchSize-1)))
	files := outputFiles(t, base)
	require.Len(t, files, 1)
	require.Equal(t, 0, s.Len(), "buffer not emptied by flush")

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, batchSize+1) // header + records
	require.Equal(t, csvHeader, rows[0])
	require.Equal(t, "https://example.com/a/0", rows[1][0])
	require.Equal(t, "oil;opec", rows[1][6])
}

func TestSinkFilenameCarriesTimestampAndCounter(t *testing.T) {
	t.Parallel()

	s, base := newCSVSink(t, 1)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testRecord(0)))
	require.NoError(t, s.Add(ctx, testRecord(1)))

	for _, want := range []string{
		base + "_20260830_143005_1.csv",
		base + "_20260830_143005_2.csv",
	} {
		_, err := os.Stat(want)
		require.NoError(t, err, "missing %s", want)
	}
}

func TestSinkDrainFlushesPartialBatch(t *testing.T) {
	t.Parallel()

	s, base := newCSVSink(t, 10)
	ctx := context.Background()

	require.NoError(t, s.Drain(ctx), "draining an empty sink should be a no-op")
	require.Empty(t, outputFiles(t, base))

	require.NoError(t, s.Add(ctx, testRecord(0)))
	require.NoError(t, s.Add(ctx, testRecord(1)))
	require.NoError(t, s.Drain(ctx))

	files := outputFiles(t, base)
	require.Len(t, files, 1)
	require.Equal(t, 0, s.Len())
}

func TestSinkParquetRoundTrip(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "out", "articles")
	s, err := New(Config{BaseFilename: base, BatchSize: 2, Format: "parquet"},
		fakeClock{now: testNow}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Add(ctx, testRecord(0)))
	require.NoError(t, s.Add(ctx, testRecord(1)))

	files := outputFiles(t, base)
	require.Len(t, files, 1)
	require.Equal(t, ".parquet", filepath.Ext(files[0]))

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	rows, err := parquet.Read[parquetRow](bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "https://example.com/a/0", rows[0].URL)
	require.Equal(t, []string{"oil", "opec"}, rows[0].Keywords)
	require.Equal(t, "2026-08-30T14:30:05Z", rows[0].FetchedAt)
}

func TestSinkSpillsWhenWriteKeepsFailing(t *testing.T) {
	t.Parallel()

	s, base := newCSVSink(t, 2)
	ctx := context.Background()

	// Occupy the deterministic output name with a directory so the rename
	// into place cannot succeed.
	blocked := base + "_20260830_143005_1.csv"
	require.NoError(t, os.MkdirAll(blocked, 0o750))

	require.NoError(t, s.Add(ctx, testRecord(0)))
	err := s.Add(ctx, testRecord(1))
	require.ErrorContains(t, err, "flush batch")
	require.Equal(t, 0, s.Len(), "failed batch must not linger in the buffer")

	spillName := filepath.Join(base+".spill", filepath.Base(blocked)+".json")
	f, err := os.Open(spillName)
	require.NoError(t, err)
	defer f.Close()

	var spilled []newswire.ExtractionRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec newswire.ExtractionRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		spilled = append(spilled, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, spilled, 2)
	require.Equal(t, "https://example.com/a/0", spilled[0].URL)
	require.Equal(t, "https://example.com/a/1", spilled[1].URL)
}
