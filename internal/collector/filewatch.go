package collector

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/newswire"
)

// FileSource feeds URLs dropped as CSV files into a watched input
// directory. Each row is `url[,title]`; rows whose first field is not an
// http(s) link are skipped, which also covers header rows. Processed files
// move to the output directory so a restart does not replay them.
type FileSource struct {
	id        string
	inputDir  string
	outputDir string
	watcher   *fsnotify.Watcher
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewFileSource builds a file source watching inputDir. Files already
// present at startup are picked up on the first poll.
func NewFileSource(id, inputDir, outputDir string, logger *zap.Logger) (*FileSource, error) {
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create input dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(inputDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", inputDir, err)
	}

	s := &FileSource{
		id:        id,
		inputDir:  inputDir,
		outputDir: outputDir,
		watcher:   watcher,
		logger:    logger,
		pending:   make(map[string]struct{}),
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("scan %s: %w", inputDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isURLFile(entry.Name()) {
			s.pending[filepath.Join(inputDir, entry.Name())] = struct{}{}
		}
	}

	go s.watch()
	return s, nil
}

// ID returns the source identifier.
func (s *FileSource) ID() string { return s.id }

// Close stops the directory watcher.
func (s *FileSource) Close() error {
	return s.watcher.Close()
}

func (s *FileSource) watch() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isURLFile(ev.Name) {
				continue
			}
			s.mu.Lock()
			s.pending[ev.Name] = struct{}{}
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("file watch error", zap.Error(err))
		}
	}
}

// Poll drains the files noticed since the last call, reads their URLs and
// archives each file to the output directory.
func (s *FileSource) Poll(ctx context.Context) ([]newswire.Discovery, error) {
	s.mu.Lock()
	paths := make([]string, 0, len(s.pending))
	for path := range s.pending {
		paths = append(paths, path)
	}
	s.pending = make(map[string]struct{})
	s.mu.Unlock()
	sort.Strings(paths)

	var found []newswire.Discovery
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return found, fmt.Errorf("file poll canceled: %w", err)
		}
		urls, err := readURLFile(path)
		if err != nil {
			s.logger.Warn("skipping url file",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		for _, d := range urls {
			d.SourceID = s.id
			found = append(found, d)
		}
		if err := s.archive(path); err != nil {
			s.logger.Warn("archiving url file failed",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}
	if len(found) > 0 {
		s.logger.Debug("url files drained",
			zap.Int("files", len(paths)),
			zap.Int("urls", len(found)),
		)
	}
	return found, nil
}

func (s *FileSource) archive(path string) error {
	dest := filepath.Join(s.outputDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	return nil
}

func isURLFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

func readURLFile(path string) ([]newswire.Discovery, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var found []newswire.Discovery
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read url file: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		link := strings.TrimSpace(row[0])
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			continue
		}
		d := newswire.Discovery{URL: link}
		if len(row) > 1 {
			d.Title = strings.TrimSpace(row[1])
		}
		found = append(found, d)
	}
	return found, nil
}
