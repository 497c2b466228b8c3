// Package badgersink is the array store: every record is kept as a row of
// integers (models.Record.Array) under the key
//
//	<stream>/<date>/<symbol>/<row number, 8 bytes big-endian>
//
// so a prefix scan returns the rows of one symbol in write order.
package badgersink

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/models"
)

// Sink persists record arrays in BadgerDB.
type Sink struct {
	db     *badger.DB
	logger *zap.Logger

	mu   sync.Mutex
	next map[string]uint64
}

// Open opens (or creates) the store at path.
func Open(path string, logger *zap.Logger) (*Sink, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open array store: %w", err)
	}
	return &Sink{db: db, logger: logger, next: make(map[string]uint64)}, nil
}

func prefix(stream models.Stream, date, symbol string) []byte {
	return []byte(stream.String() + "/" + date + "/" + symbol + "/")
}

// reserve hands out n consecutive row numbers for prefix p.
func (s *Sink) reserve(p []byte, n int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.next[string(p)]
	if !ok {
		last, found, err := s.lastRow(p)
		if err != nil {
			return 0, err
		}
		if found {
			start = last + 1
		}
	}
	s.next[string(p)] = start + uint64(n)
	return start, nil
}

func (s *Sink) lastRow(p []byte) (uint64, bool, error) {
	var (
		row   uint64
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		seek := append(append([]byte(nil), p...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if it.ValidForPrefix(p) {
			k := it.Item().Key()
			row = binary.BigEndian.Uint64(k[len(k)-8:])
			found = true
		}
		return nil
	})
	return row, found, err
}

func encodeRow(row []int64) []byte {
	buf := make([]byte, 0, len(row)*3)
	for _, v := range row {
		buf = binary.AppendVarint(buf, v)
	}
	return buf
}

func decodeRow(b []byte) ([]int64, error) {
	var out []int64
	for len(b) > 0 {
		v, n := binary.Varint(b)
		if n <= 0 {
			return nil, errors.New("badgersink: corrupt row")
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

func (s *Sink) WriteBatch(_ context.Context, b sink.Batch) error {
	if len(b.Records) == 0 {
		return nil
	}
	p := prefix(b.Stream, b.Date, b.Symbol)
	start, err := s.reserve(p, len(b.Records))
	if err != nil {
		return fmt.Errorf("badgersink: reserve rows: %w", err)
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, r := range b.Records {
		key := binary.BigEndian.AppendUint64(append([]byte(nil), p...), start+uint64(i))
		if err := wb.Set(key, encodeRow(r.Array())); err != nil {
			return fmt.Errorf("badgersink: set: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("badgersink: flush: %w", err)
	}
	return nil
}

// Scan reads back the rows of one symbol in write order, stopping at the
// first error returned by fn.
func (s *Sink) Scan(stream models.Stream, date, symbol string, fn func(row uint64, values []int64) error) error {
	p := prefix(stream, date, symbol)
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			k := item.Key()
			row := binary.BigEndian.Uint64(k[len(k)-8:])
			var values []int64
			err := item.Value(func(v []byte) error {
				var err error
				values, err = decodeRow(v)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(row, values); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Sink) Close() error {
	return s.db.Close()
}
