// Package sink batches extraction records and persists them atomically as
// parquet or CSV files.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/metrics"
	"github.com/quantfeed/newswire/internal/newswire"
)

// writeRetries is how many times a failed batch write is reattempted before
// the batch spills to JSON lines.
const writeRetries = 3

// Config controls batching and the output location.
type Config struct {
	// BaseFilename is the output path prefix, e.g. "processed_data/articles".
	BaseFilename string
	BatchSize    int
	Format       string
}

// BatchSink implements newswire.Sink. Records accumulate in memory and are
// flushed once BatchSize is reached or on Drain. Each flush lands in its own
// file via a temp-file-plus-rename, so readers never see partial batches.
type BatchSink struct {
	cfg    Config
	enc    encoder
	clock  newswire.Clock
	logger *zap.Logger

	mu      sync.Mutex
	buffer  []newswire.ExtractionRecord
	counter int
}

// New validates the config and prepares the output directory.
func New(cfg Config, clock newswire.Clock, logger *zap.Logger) (*BatchSink, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.BaseFilename == "" {
		return nil, fmt.Errorf("base filename is required")
	}
	enc, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.BaseFilename), 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &BatchSink{
		cfg:    cfg,
		enc:    enc,
		clock:  clock,
		logger: logger,
		buffer: make([]newswire.ExtractionRecord, 0, cfg.BatchSize),
	}, nil
}

// Add buffers one record, flushing when the batch fills. A flush failure is
// returned to the caller, but the batch itself has already been spilled so
// no records are lost.
func (s *BatchSink) Add(_ context.Context, record newswire.ExtractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, record)
	if len(s.buffer) < s.cfg.BatchSize {
		return nil
	}
	return s.flushLocked()
}

// Drain flushes whatever is buffered. Called on shutdown.
func (s *BatchSink) Drain(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) == 0 {
		return nil
	}
	return s.flushLocked()
}

// Len reports how many records are currently buffered.
func (s *BatchSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// flushLocked writes the buffer out and empties it. The buffer is cleared
// even on failure since the failed batch spills to disk.
func (s *BatchSink) flushLocked() error {
	batch := s.buffer
	s.buffer = make([]newswire.ExtractionRecord, 0, s.cfg.BatchSize)
	name := s.nextFilename()

	data, err := s.enc.Encode(batch)
	if err == nil {
		err = s.writeAtomic(name, data)
	}
	if err == nil {
		metrics.IncBatchesFlushed()
		metrics.AddRecordsFlushed(len(batch))
		s.logger.Info("flushed batch",
			zap.String("file", name),
			zap.Int("records", len(batch)),
		)
		return nil
	}

	s.logger.Error("batch write failed, spilling",
		zap.String("file", name),
		zap.Int("records", len(batch)),
		zap.Error(err),
	)
	if spillErr := s.spill(name, batch); spillErr != nil {
		return fmt.Errorf("flush failed (%w) and spill failed: %w", err, spillErr)
	}
	metrics.IncBatchSpills()
	return fmt.Errorf("flush batch: %w", err)
}

// writeAtomic stages the body into a temp file in the destination directory
// and renames it into place, retrying transient failures.
func (s *BatchSink) writeAtomic(name string, data []byte) error {
	dir := filepath.Dir(name)
	var lastErr error
	for attempt := 1; attempt <= writeRetries; attempt++ {
		tmp, err := os.CreateTemp(dir, filepath.Base(name)+".tmp")
		if err != nil {
			lastErr = fmt.Errorf("create temp file: %w", err)
			continue
		}
		_, err = tmp.Write(data)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err == nil {
			if err = os.Rename(tmp.Name(), name); err == nil {
				return nil
			}
		}
		lastErr = err
		os.Remove(tmp.Name())
		s.logger.Warn("batch write attempt failed",
			zap.String("file", name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return lastErr
}

// spill appends the batch as JSON lines under <base>.spill/ so a failed
// flush still leaves the records recoverable.
func (s *BatchSink) spill(name string, batch []newswire.ExtractionRecord) error {
	spillDir := s.cfg.BaseFilename + ".spill"
	if err := os.MkdirAll(spillDir, 0o750); err != nil {
		return fmt.Errorf("create spill directory: %w", err)
	}
	spillName := filepath.Join(spillDir, filepath.Base(name)+".json")

	f, err := os.OpenFile(spillName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open spill file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, record := range batch {
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("write spill record: %w", err)
		}
	}
	s.logger.Warn("spilled batch", zap.String("file", spillName), zap.Int("records", len(batch)))
	return nil
}

// nextFilename builds <base>_<timestamp>_<counter>.<ext>.
func (s *BatchSink) nextFilename() string {
	s.counter++
	stamp := s.clock.Now().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%d.%s", s.cfg.BaseFilename, stamp, s.counter, s.enc.Ext())
}
