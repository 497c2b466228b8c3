// Package sink defines where flushed records go. Backends live in subpackages.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/Aidin1998/itchbook/pkg/models"
)

// Batch is the unit of one write: records of one stream for one symbol on one
// session date, in stream order. The sink owns Records once WriteBatch is called.
type Batch struct {
	Stream  models.Stream
	Symbol  string
	Date    string
	Records []models.Record
}

// Sink persists batches with append semantics. Implementations must preserve
// record order and be safe for concurrent writers on different symbols or dates.
type Sink interface {
	WriteBatch(ctx context.Context, b Batch) error
	Close() error
}

// Multi fans every batch out to several sinks in order. The first error stops the fan-out.
type Multi []Sink

func NewMulti(sinks ...Sink) Multi { return Multi(sinks) }

func (m Multi) WriteBatch(ctx context.Context, b Batch) error {
	for _, s := range m {
		if err := s.WriteBatch(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps every batch in memory. Used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	batches []Batch
	closed  bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) WriteBatch(_ context.Context, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.batches = append(m.batches, b)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Batches returns a copy of the batches received so far.
func (m *Memory) Batches() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Batch(nil), m.batches...)
}

// Records returns every record of stream for symbol across all batches, in write order.
func (m *Memory) Records(stream models.Stream, symbol string) []models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Record
	for _, b := range m.batches {
		if b.Stream == stream && b.Symbol == symbol {
			out = append(out, b.Records...)
		}
	}
	return out
}

// ErrClosed is returned by sinks written after Close.
var ErrClosed = errors.New("sink: closed")
