// Package analysis turns replay output into research series: books sampled
// on a fixed time grid, executions aggregated into trades, and book/message
// pairs with no-op updates removed.
package analysis

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/itchbook/pkg/models"
)

var (
	ErrStep     = errors.New("analysis: step must be positive")
	ErrUnsorted = errors.New("analysis: records are not in time order")
	ErrMismatch = errors.New("analysis: books and messages are not paired")
)

// Timestamp is the offset of a record from midnight.
func Timestamp(h models.Header) time.Duration {
	return time.Duration(h.Sec)*time.Second + time.Duration(h.Nano)
}

func stamp(h *models.Header, at time.Duration) {
	h.Sec = uint32(at / time.Second)
	h.Nano = uint32(at % time.Second)
}

// Interpolate samples books on a grid of step. The grid starts one step after
// the first snapshot's time rounded down to step and ends one step after the
// last snapshot's time rounded down. Each grid point holds the last snapshot
// at or before it, restamped with the grid time.
func Interpolate(books []models.BookSnapshot, step time.Duration) ([]models.BookSnapshot, error) {
	if step <= 0 {
		return nil, ErrStep
	}
	if len(books) == 0 {
		return nil, nil
	}
	first := Timestamp(books[0].Header)
	last := Timestamp(books[len(books)-1].Header)
	if last < first {
		return nil, ErrUnsorted
	}
	start := first - first%step
	end := last - last%step + step

	out := make([]models.BookSnapshot, 0, int((end-start)/step))
	i := 0
	for at := start + step; at <= end; at += step {
		for i+1 < len(books) && Timestamp(books[i+1].Header) <= at {
			if Timestamp(books[i+1].Header) < Timestamp(books[i].Header) {
				return nil, ErrUnsorted
			}
			i++
		}
		s := books[i]
		stamp(&s.Header, at)
		out = append(out, s)
	}
	return out, nil
}

// Trade is a run of executions against one side at one moment.
type Trade struct {
	models.Header
	Side       models.Side
	Shares     int64
	VWAP       decimal.Decimal
	Hit        bool
	Executions int
}

func executed(m models.MessageRecord) (price uint32, ok bool) {
	switch m.Type {
	case 'E':
		return m.Price, true
	case 'C':
		return m.ExecPrice, true
	}
	return 0, false
}

// FindTrades aggregates executions ('E' at the order price, 'C' at the
// execution price) of one symbol and one side whose times fall within window
// of the first execution of the run. Shares is the executed volume. Hit is
// set when the run filled at more than one price.
func FindTrades(msgs []models.MessageRecord, window time.Duration) []Trade {
	var (
		out      []Trade
		cur      *Trade
		start    time.Duration
		first    uint32
		notional int64
	)
	closeRun := func() {
		if cur == nil {
			return
		}
		cur.VWAP = decimal.New(notional, -models.PriceScale).Div(decimal.NewFromInt(cur.Shares))
		out = append(out, *cur)
		cur = nil
	}
	for _, m := range msgs {
		price, ok := executed(m)
		if !ok {
			continue
		}
		shares := m.Shares
		if shares < 0 {
			shares = -shares
		}
		if shares == 0 {
			continue
		}
		at := Timestamp(m.Header)
		if cur == nil || m.Symbol != cur.Symbol || m.Side != cur.Side || at > start+window {
			closeRun()
			cur = &Trade{Header: m.Header, Side: m.Side}
			start, first, notional = at, price, 0
		}
		if price != first {
			cur.Hit = true
		}
		cur.Shares += shares
		cur.Executions++
		notional += int64(price) * shares
	}
	closeRun()
	return out
}

func sameLevels(a, b []models.PriceLevel, n int) bool {
	if n > 0 {
		a, b = a[:min(n, len(a))], b[:min(n, len(b))]
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NoDups drops every book whose top levels per side equal those of the
// previous book of the same symbol, together with the message at the same
// index. levels <= 0 compares every level the snapshot carries. books and
// msgs must be paired index by index with matching sequence numbers.
func NoDups(books []models.BookSnapshot, msgs []models.MessageRecord, levels int) ([]models.BookSnapshot, []models.MessageRecord, error) {
	if len(books) != len(msgs) {
		return nil, nil, fmt.Errorf("%w: %d books, %d messages", ErrMismatch, len(books), len(msgs))
	}
	prev := make(map[string]int)
	var (
		outB []models.BookSnapshot
		outM []models.MessageRecord
	)
	for i, b := range books {
		m := msgs[i]
		if b.Symbol != m.Symbol || b.Seq != m.Seq {
			return nil, nil, fmt.Errorf("%w: row %d is book %s/%d, message %s/%d", ErrMismatch, i, b.Symbol, b.Seq, m.Symbol, m.Seq)
		}
		if j, ok := prev[b.Symbol]; ok {
			p := books[j]
			if sameLevels(p.Bids, b.Bids, levels) && sameLevels(p.Asks, b.Asks, levels) {
				prev[b.Symbol] = i
				continue
			}
		}
		prev[b.Symbol] = i
		outB = append(outB, b)
		outM = append(outM, m)
	}
	return outB, outM, nil
}
