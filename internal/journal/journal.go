// Package journal records feed anomalies as JSON lines so a run can be
// audited after the fact. One journal may be shared by concurrent pipelines.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entry kinds
const (
	KindRunStarted         = "RUN_STARTED"
	KindRunFinished        = "RUN_FINISHED"
	KindUnknownType        = "UNKNOWN_TYPE"
	KindDuplicateReference = "DUPLICATE_REFERENCE"
	KindUnknownReference   = "UNKNOWN_REFERENCE"
	KindSymbolDropped      = "SYMBOL_DROPPED"
)

// Entry is one journal line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     uuid.UUID `json:"run_id"`
	Kind      string    `json:"kind"`
	Date      string    `json:"date,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Offset    int64     `json:"offset,omitempty"`
	Sec       uint32    `json:"sec,omitempty"`
	Nano      uint32    `json:"nano,omitempty"`
	Tag       string    `json:"tag,omitempty"`
	RefNo     uint64    `json:"refno,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Journal appends entries and counts them by kind.
type Journal struct {
	runID  uuid.UUID
	file   *os.File
	writer *bufio.Writer
	log    *zap.Logger

	mu     sync.Mutex
	counts map[string]int
}

// Open creates or appends to the journal at path.
func Open(path string, log *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	j := New(f, log)
	j.file = f
	return j, nil
}

// New journals to w. A nil w discards entries but still counts them.
func New(w io.Writer, log *zap.Logger) *Journal {
	if w == nil {
		w = io.Discard
	}
	return &Journal{
		runID:  uuid.New(),
		writer: bufio.NewWriter(w),
		log:    log,
		counts: make(map[string]int),
	}
}

// RunID identifies every entry written by this journal.
func (j *Journal) RunID() uuid.UUID { return j.runID }

// Record stamps and appends e.
func (j *Journal) Record(e Entry) error {
	e.RunID = j.runID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.counts[e.Kind]++
	if _, err := j.writer.Write(data); err != nil {
		return err
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return err
	}
	return j.writer.Flush()
}

// Counts returns how many entries of each kind were recorded.
func (j *Journal) Counts() map[string]int {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]int, len(j.counts))
	for k, v := range j.counts {
		out[k] = v
	}
	return out
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.writer.Flush(); err != nil {
		return err
	}
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// Replay reads the journal at path and hands each entry to handler until it
// returns false. Lines that do not parse are logged and skipped.
func Replay(path string, log *zap.Logger, handler func(Entry) (bool, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open journal for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n, bad := 0, 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			bad++
			log.Warn("skipping corrupt journal line", zap.Error(err), zap.Int("line", n+bad))
			continue
		}
		n++
		more, err := handler(e)
		if err != nil {
			return fmt.Errorf("journal replay stopped at entry %d: %w", n, err)
		}
		if !more {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading journal: %w", err)
	}
	log.Debug("journal replayed", zap.Int("entries", n), zap.Int("corrupt", bad))
	return nil
}
