// =============================
// ITCH replay pipeline
// =============================
// One Pipeline turns one session file into the output streams:
//
//	frame reader -> symbol filter -> decoder -> order table -> books   -> buffer -> sink
//	                                         -> event classifier       -/
//
// Every frame is seen exactly once, in order. Tolerated anomalies are
// counted and journaled; framing, layout and sink errors end the run.
// A symbol whose book breaks an integrity check is dropped and the
// replay continues for the others.

package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/itchbook/internal/book"
	"github.com/Aidin1998/itchbook/internal/buffer"
	"github.com/Aidin1998/itchbook/internal/events"
	"github.com/Aidin1998/itchbook/internal/itch"
	"github.com/Aidin1998/itchbook/internal/journal"
	"github.com/Aidin1998/itchbook/internal/orders"
	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/metrics"
	"github.com/Aidin1998/itchbook/pkg/models"
)

const defaultProgressEvery = 10_000_000

// Options configures one session replay.
type Options struct {
	Version  itch.Version
	Date     string
	Symbols  []string
	Levels   int
	Capacity int
	// ProgressEvery logs a progress line every that many frames; 0 uses the default.
	ProgressEvery uint64
	// OrderHint pre-sizes the order table.
	OrderHint int
}

func (o Options) validate() error {
	switch {
	case o.Version == 0:
		return errors.New("replay: protocol version not set")
	case o.Date == "":
		return errors.New("replay: session date not set")
	case len(o.Symbols) == 0:
		return errors.New("replay: no symbols to track")
	case o.Levels < 1:
		return fmt.Errorf("replay: levels must be positive, got %d", o.Levels)
	case o.Capacity < 1:
		return fmt.Errorf("replay: buffer capacity must be positive, got %d", o.Capacity)
	}
	return nil
}

// Result summarises one replay.
//
// Skipped counts frames dropped before decoding, keyed by filter decision.
// A delta whose reference is not live is dropped by the filter, so deltas
// for unknown orders are counted under Skipped["reference"] together with
// the deltas of untracked symbols. Anomalies never holds unknown_reference
// for a replay; that kind is only journaled by callers driving the order
// table without the filter.
type Result struct {
	Date           string                `yaml:"date"`
	Frames         uint64                `yaml:"frames"`
	Bytes          int64                 `yaml:"bytes"`
	Decoded        uint64                `yaml:"decoded"`
	Skipped        map[string]uint64     `yaml:"skipped"`
	Anomalies      map[string]uint64     `yaml:"anomalies"`
	Records        map[models.Stream]int `yaml:"-"`
	Flushes        map[models.Stream]int `yaml:"-"`
	DroppedSymbols map[string]string     `yaml:"dropped_symbols,omitempty"`
	LiveOrders     int                   `yaml:"live_orders"`
	EndOfMessages  bool                  `yaml:"end_of_messages"`
	Elapsed        time.Duration         `yaml:"elapsed"`
}

// Pipeline replays one session. It is single use.
type Pipeline struct {
	opts    Options
	logger  *zap.Logger
	journal *journal.Journal

	table      *orders.Table
	books      *book.Registry
	filter     *itch.SymbolFilter
	classifier *events.Classifier
	buf        *buffer.Coordinator

	clock  uint32
	offset int64
	res    Result
}

// NewPipeline wires the components of one replay. j may be nil.
func NewPipeline(opts Options, s sink.Sink, j *journal.Journal, logger *zap.Logger) (*Pipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if j == nil {
		j = journal.New(nil, logger)
	}
	if opts.ProgressEvery == 0 {
		opts.ProgressEvery = defaultProgressEvery
	}
	logger = logger.With(zap.String("date", opts.Date), zap.String("version", opts.Version.String()))

	buf, err := buffer.New(s, opts.Date, opts.Capacity, logger)
	if err != nil {
		return nil, err
	}
	table := orders.NewTable(opts.OrderHint)
	return &Pipeline{
		opts:       opts,
		logger:     logger,
		journal:    j,
		table:      table,
		books:      book.NewRegistry(opts.Levels),
		filter:     itch.NewSymbolFilter(opts.Version, opts.Symbols, table),
		classifier: events.NewClassifier(opts.Date),
		buf:        buf,
		res: Result{
			Date:           opts.Date,
			Skipped:        make(map[string]uint64),
			Anomalies:      make(map[string]uint64),
			DroppedSymbols: make(map[string]string),
		},
	}, nil
}

// Run consumes r until end of input, the end-of-messages event or an error.
// On cancellation the records flushed so far stay written; nothing else is.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) (Result, error) {
	start := time.Now()
	fr := itch.NewFrameReader(r)
	p.logger.Info("replay started", zap.Strings("symbols", p.opts.Symbols), zap.Int("levels", p.opts.Levels))

	err := p.loop(ctx, fr)
	p.res.Frames = fr.Frames()
	p.res.Bytes = fr.Offset()
	if err == nil {
		err = p.buf.FlushAll(ctx)
	}
	stats := p.buf.Stats()
	p.res.Records, p.res.Flushes = stats.Records, stats.Flushes
	p.res.LiveOrders = p.table.Len()
	p.res.Elapsed = time.Since(start)

	if err != nil {
		p.logger.Error("replay failed", zap.Error(err), zap.Uint64("frames", p.res.Frames), zap.Int64("offset", p.offset))
		return p.res, err
	}
	p.logger.Info("replay finished",
		zap.Uint64("frames", p.res.Frames),
		zap.Uint64("decoded", p.res.Decoded),
		zap.Int("live_orders", p.res.LiveOrders),
		zap.Int("dropped_symbols", len(p.res.DroppedSymbols)),
		zap.Duration("elapsed", p.res.Elapsed))
	return p.res, nil
}

func (p *Pipeline) loop(ctx context.Context, fr *itch.FrameReader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.offset = fr.Offset()
		frame, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		tag := string(frame.Tag)
		metrics.FramesRead.WithLabelValues(tag).Inc()
		if n := fr.Frames(); n%p.opts.ProgressEvery == 0 {
			p.logger.Info("replay progress", zap.Uint64("frames", n), zap.Int("live_orders", p.table.Len()))
		}

		decision, err := p.filter.Relevant(frame)
		if err != nil {
			if errors.Is(err, itch.ErrUnknownType) {
				p.anomaly(journal.Entry{Kind: journal.KindUnknownType, Tag: tag, Detail: err.Error()})
				continue
			}
			return err
		}
		if decision != itch.Keep {
			p.res.Skipped[decision.String()]++
			metrics.FramesSkipped.WithLabelValues(decision.String()).Inc()
			continue
		}

		msg, err := itch.DecodeFrame(p.opts.Version, frame)
		if err != nil {
			return err
		}
		p.res.Decoded++

		if p.opts.Version.HasSecondsMessages() {
			if msg.Type == 'T' {
				p.clock = msg.Sec
				continue
			}
			msg.Sec = p.clock
		}

		if itch.AffectsBook(msg.Type) {
			err = p.applyBook(ctx, &msg)
		} else if rec, ok := p.classifier.Classify(&msg); ok {
			if msg.Type == 'S' {
				p.logger.Info("system event", zap.String("event", string(msg.Event)), zap.Uint32("sec", msg.Sec))
			}
			err = p.buf.Append(ctx, rec)
		}
		if err != nil {
			return err
		}
		if msg.EndOfMessages() {
			p.res.EndOfMessages = true
			return nil
		}
	}
}

func (p *Pipeline) applyBook(ctx context.Context, msg *itch.Message) error {
	var (
		op  orders.Operation
		err error
	)
	switch msg.Type {
	case 'A', 'F':
		op, err = p.table.Add(msg.RefNo, msg.Stock, msg.Side, msg.Price, msg.Shares)
	case 'E', 'C':
		op, err = p.table.Execute(msg.RefNo, msg.Shares)
	case 'X':
		op, err = p.table.Cancel(msg.RefNo, msg.Shares)
	case 'D':
		op, err = p.table.Delete(msg.RefNo)
	case 'U':
		op, err = p.table.Replace(msg.RefNo, msg.NewRefNo, msg.Price, msg.Shares)
	}
	op.Kind = msg.Type

	switch {
	case err == nil:
	case errors.Is(err, orders.ErrDuplicateReference):
		p.anomaly(p.entry(journal.KindDuplicateReference, msg, err))
		return nil
	case errors.Is(err, orders.ErrUnknownReference):
		// Not reached while the filter tracks live references.
		p.anomaly(p.entry(journal.KindUnknownReference, msg, err))
		return nil
	case errors.Is(err, orders.ErrInsufficientShares):
		rec, _ := p.table.Get(msg.RefNo)
		p.dropSymbol(rec.Symbol, msg, err)
		return nil
	default:
		return err
	}

	b, ok := p.books.Book(op.Symbol)
	if !ok {
		return nil
	}
	if err := b.Apply(op); err != nil {
		var iv *book.InvariantViolation
		if errors.As(err, &iv) {
			p.dropSymbol(op.Symbol, msg, err)
			return nil
		}
		return err
	}

	h := models.Header{Date: p.opts.Date, Symbol: op.Symbol, Sec: msg.Sec, Nano: msg.Nano}
	rec := models.MessageRecord{
		Header:    h,
		Seq:       b.Seq(),
		Type:      msg.Type,
		Side:      op.Side,
		Price:     op.Price,
		Shares:    op.Shares,
		RefNo:     msg.RefNo,
		NewRefNo:  msg.NewRefNo,
		MatchNo:   msg.MatchNo,
		ExecPrice: msg.ExecPrice,
		MPID:      msg.MPID,
	}
	if legs := op.Legs(); msg.Type == 'U' && len(legs) == 2 {
		rec.OldPrice = legs[0].Price
		rec.OldShares = uint32(-legs[0].Delta)
	}
	if err := p.buf.Append(ctx, rec); err != nil {
		return err
	}
	return p.buf.Append(ctx, b.Snapshot(h, p.books.Depth()))
}

// dropSymbol abandons a symbol whose book can no longer be trusted.
func (p *Pipeline) dropSymbol(symbol string, msg *itch.Message, reason error) {
	if symbol == "" || p.books.IsDropped(symbol) {
		return
	}
	p.books.Drop(symbol, reason)
	purged := p.table.PurgeSymbol(symbol)
	p.filter.Drop(symbol)
	p.res.DroppedSymbols[symbol] = reason.Error()
	metrics.DroppedSymbols.Inc()

	e := p.entry(journal.KindSymbolDropped, msg, reason)
	e.Symbol, e.Date, e.Offset = symbol, p.opts.Date, p.offset
	if err := p.journal.Record(e); err != nil {
		p.logger.Warn("journal write failed", zap.Error(err))
	}
	p.logger.Warn("symbol dropped",
		zap.String("symbol", symbol),
		zap.Int("purged_orders", purged),
		zap.Int64("offset", p.offset),
		zap.Error(reason))
}

func (p *Pipeline) entry(kind string, msg *itch.Message, err error) journal.Entry {
	return journal.Entry{
		Kind:   kind,
		Symbol: msg.Stock,
		Sec:    msg.Sec,
		Nano:   msg.Nano,
		Tag:    string(msg.Type),
		RefNo:  msg.RefNo,
		Detail: err.Error(),
	}
}

func (p *Pipeline) anomaly(e journal.Entry) {
	e.Date = p.opts.Date
	e.Offset = p.offset
	p.res.Anomalies[e.Kind]++
	metrics.Anomalies.WithLabelValues(e.Kind).Inc()
	if err := p.journal.Record(e); err != nil {
		p.logger.Warn("journal write failed", zap.Error(err))
	}
	p.logger.Debug("feed anomaly", zap.String("kind", e.Kind), zap.String("tag", e.Tag), zap.Uint64("refno", e.RefNo))
}
