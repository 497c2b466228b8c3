// Package csvsink writes each stream of each session date to its own
// delimited text file: <dir>/<date>/<stream>.csv. Prices are written in
// display units; every row names its symbol.
package csvsink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/models"
)

type file struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// Sink appends rows to CSV files under a root directory.
type Sink struct {
	dir    string
	depth  int
	logger *zap.Logger

	mu     sync.Mutex
	files  map[string]*file
	closed bool
}

// New creates the root directory if needed. depth sizes the book header.
func New(dir string, depth int, logger *zap.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csvsink: create %s: %w", dir, err)
	}
	return &Sink{dir: dir, depth: depth, logger: logger, files: make(map[string]*file)}, nil
}

// Path is where records of stream for date are written.
func (s *Sink) Path(stream models.Stream, date string) string {
	return filepath.Join(s.dir, date, stream.String()+".csv")
}

func (s *Sink) open(stream models.Stream, date string) (*file, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, sink.ErrClosed
	}
	path := s.Path(stream, date)
	if f, ok := s.files[path]; ok {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	needHeader := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(fh)
	if needHeader {
		if err := w.Write(models.Columns(stream, s.depth)); err != nil {
			fh.Close()
			return nil, err
		}
	}
	f := &file{f: fh, w: w}
	s.files[path] = f
	s.logger.Debug("opened csv output", zap.String("path", path), zap.Bool("header", needHeader))
	return f, nil
}

func (s *Sink) WriteBatch(_ context.Context, b sink.Batch) error {
	f, err := s.open(b.Stream, b.Date)
	if err != nil {
		return fmt.Errorf("csvsink: open %s/%s: %w", b.Date, b.Stream, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range b.Records {
		if err := f.w.Write(r.Row()); err != nil {
			return fmt.Errorf("csvsink: write %s/%s: %w", b.Date, b.Stream, err)
		}
	}
	f.w.Flush()
	return f.w.Error()
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var firstErr error
	for path, f := range s.files {
		f.mu.Lock()
		f.w.Flush()
		if err := f.w.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := f.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.mu.Unlock()
		delete(s.files, path)
	}
	return firstErr
}
