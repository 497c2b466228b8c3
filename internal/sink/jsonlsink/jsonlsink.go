// Package jsonlsink appends every record to a single JSON-lines log with a
// monotonically increasing sequence number. The log is synced to disk after
// each batch and the sequence resumes when an existing log is reopened.
package jsonlsink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/models"
)

// Entry is one line of the log.
type Entry struct {
	Seq    uint64          `json:"seq"`
	Stream string          `json:"stream"`
	Date   string          `json:"date"`
	Symbol string          `json:"symbol,omitempty"`
	Record json.RawMessage `json:"record"`
}

type Sink struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	seq  uint64
}

func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s := &Sink{file: f, w: bufio.NewWriter(f)}
	if err := s.recoverSeq(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// recoverSeq scans the log to find the last sequence number.
func (s *Sink) recoverSeq() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var maxSeq uint64
	dec := json.NewDecoder(s.file)
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("jsonlsink: corrupt log: %w", err)
		}
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	s.seq = maxSeq
	return nil
}

// Seq is the sequence number of the last entry written.
func (s *Sink) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Sink) WriteBatch(_ context.Context, b sink.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return sink.ErrClosed
	}
	for _, r := range b.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		s.seq++
		line, err := json.Marshal(Entry{Seq: s.seq, Stream: b.Stream.String(), Date: b.Date, Symbol: b.Symbol, Record: data})
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := s.w.Write(line); err != nil {
			return err
		}
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.w.Flush()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}

// ReadAll returns every entry of the log at path.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Entry
	dec := json.NewDecoder(f)
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Decode unmarshals the record of e into its concrete type.
func Decode(e Entry) (models.Record, error) {
	st, err := models.ParseStream(e.Stream)
	if err != nil {
		return nil, err
	}
	switch st {
	case models.StreamMessages:
		return decodeAs[models.MessageRecord](e.Record)
	case models.StreamBooks:
		return decodeAs[models.BookSnapshot](e.Record)
	case models.StreamTrades:
		return decodeAs[models.TradeRecord](e.Record)
	case models.StreamSystem:
		return decodeAs[models.SystemRecord](e.Record)
	default:
		return decodeAs[models.ImbalanceRecord](e.Record)
	}
}

func decodeAs[T models.Record](raw json.RawMessage) (models.Record, error) {
	var r T
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return r, nil
}
