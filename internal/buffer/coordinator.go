// Bounded record buffer with flush-on-capacity.
// Records accumulate per stream; when a stream reaches capacity it is written
// to the sink grouped by symbol and released. No stream ever holds more than
// capacity records, however many symbols are tracked.

package buffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/metrics"
	"github.com/Aidin1998/itchbook/pkg/models"
)

// ErrInvalidCapacity is returned for a capacity below one.
var ErrInvalidCapacity = errors.New("buffer: capacity must be at least 1")

// SinkError wraps a failed sink write. It is fatal: the coordinator accepts
// nothing further once one has occurred.
type SinkError struct {
	Stream models.Stream
	Symbol string
	Date   string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink write %s/%s/%s: %v", e.Stream, e.Date, e.Symbol, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Stats summarises what has been handed to the sink.
type Stats struct {
	Flushes map[models.Stream]int
	Records map[models.Stream]int
}

// Coordinator owns the pending records of one session.
type Coordinator struct {
	sink     sink.Sink
	date     string
	capacity int
	logger   *zap.Logger

	pending map[models.Stream][]models.Record
	failed  error
	flushes map[models.Stream]int
	written map[models.Stream]int
}

func New(s sink.Sink, date string, capacity int, logger *zap.Logger) (*Coordinator, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		sink:     s,
		date:     date,
		capacity: capacity,
		logger:   logger,
		pending:  make(map[models.Stream][]models.Record, len(models.Streams)),
		flushes:  make(map[models.Stream]int, len(models.Streams)),
		written:  make(map[models.Stream]int, len(models.Streams)),
	}
	for _, st := range models.Streams {
		c.pending[st] = make([]models.Record, 0, capacity)
	}
	return c, nil
}

// Capacity is the per-stream bound.
func (c *Coordinator) Capacity() int { return c.capacity }

// Resident is the number of records of stream held in memory.
func (c *Coordinator) Resident(stream models.Stream) int { return len(c.pending[stream]) }

// Append queues rec and flushes its stream when the stream is full.
func (c *Coordinator) Append(ctx context.Context, rec models.Record) error {
	if c.failed != nil {
		return c.failed
	}
	st := rec.Stream()
	c.pending[st] = append(c.pending[st], rec)
	metrics.ResidentRecords.WithLabelValues(st.String()).Set(float64(len(c.pending[st])))
	if len(c.pending[st]) >= c.capacity {
		return c.Flush(ctx, st)
	}
	return nil
}

// Flush writes every pending record of stream, one batch per symbol in
// first-seen order, and releases them.
func (c *Coordinator) Flush(ctx context.Context, stream models.Stream) error {
	if c.failed != nil {
		return c.failed
	}
	recs := c.pending[stream]
	if len(recs) == 0 {
		return nil
	}

	start := time.Now()
	order := make([]string, 0, 4)
	groups := make(map[string][]models.Record, 4)
	for _, r := range recs {
		sym := r.Meta().Symbol
		if _, ok := groups[sym]; !ok {
			order = append(order, sym)
		}
		groups[sym] = append(groups[sym], r)
	}

	for _, sym := range order {
		b := sink.Batch{Stream: stream, Symbol: sym, Date: c.date, Records: groups[sym]}
		if err := c.sink.WriteBatch(ctx, b); err != nil {
			c.failed = &SinkError{Stream: stream, Symbol: sym, Date: c.date, Err: err}
			metrics.SinkErrors.WithLabelValues(stream.String()).Inc()
			c.logger.Error("sink write failed",
				zap.String("stream", stream.String()),
				zap.String("symbol", sym),
				zap.Int("records", len(b.Records)),
				zap.Error(err))
			return c.failed
		}
	}

	n := len(recs)
	clear(recs)
	c.pending[stream] = recs[:0]
	c.flushes[stream]++
	c.written[stream] += n

	label := stream.String()
	metrics.Flushes.WithLabelValues(label).Inc()
	metrics.FlushedRecords.WithLabelValues(label).Add(float64(n))
	metrics.FlushLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	metrics.ResidentRecords.WithLabelValues(label).Set(0)
	c.logger.Debug("flushed",
		zap.String("stream", label),
		zap.Int("records", n),
		zap.Int("symbols", len(order)))
	return nil
}

// FlushAll flushes every stream. Called once at end of input.
func (c *Coordinator) FlushAll(ctx context.Context) error {
	for _, st := range models.Streams {
		if err := c.Flush(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// Err returns the sink failure that stopped the coordinator, if any.
func (c *Coordinator) Err() error { return c.failed }

// Stats returns flush and record counts per stream.
func (c *Coordinator) Stats() Stats {
	s := Stats{Flushes: make(map[models.Stream]int), Records: make(map[models.Stream]int)}
	for k, v := range c.flushes {
		s.Flushes[k] = v
	}
	for k, v := range c.written {
		s.Records[k] = v
	}
	return s
}
