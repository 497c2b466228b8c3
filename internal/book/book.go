// =============================
// Order book reconstruction
// =============================
// One OrderBook per symbol holds the aggregate resting size at every price on
// each side. Books never see individual orders: they are driven by the signed
// legs the order table produces, so a level always equals the sum of the live
// orders resting at it.
//
// Both ladders are full depth; snapshots cut the top N levels on demand.

package book

import (
	"fmt"
	"sort"

	"github.com/tidwall/btree"

	"github.com/Aidin1998/itchbook/internal/orders"
	"github.com/Aidin1998/itchbook/pkg/models"
)

// InvariantViolation means the book can no longer be trusted: a level would
// go negative or the book would be crossed or locked.
type InvariantViolation struct {
	Symbol string
	Side   models.Side
	Price  uint32
	Reason string
}

func (e *InvariantViolation) Error() string {
	if e.Price != 0 {
		return fmt.Sprintf("book %s: %s (side %s, price %d)", e.Symbol, e.Reason, e.Side, e.Price)
	}
	return fmt.Sprintf("book %s: %s", e.Symbol, e.Reason)
}

// OrderBook is the price ladder pair of one symbol.
type OrderBook struct {
	Symbol string

	bids *btree.Map[uint32, uint64]
	asks *btree.Map[uint32, uint64]
	seq  uint64
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   btree.NewMap[uint32, uint64](32),
		asks:   btree.NewMap[uint32, uint64](32),
	}
}

func (b *OrderBook) ladder(side models.Side) (*btree.Map[uint32, uint64], error) {
	switch side {
	case models.SideBuy:
		return b.bids, nil
	case models.SideSell:
		return b.asks, nil
	}
	return nil, &InvariantViolation{Symbol: b.Symbol, Side: side, Reason: fmt.Sprintf("invalid side %q", byte(side))}
}

// Apply applies every leg of op in order and then checks the book is not
// crossed. On error the book is left partially updated and must be discarded.
// A successful Apply advances the book sequence.
func (b *OrderBook) Apply(op orders.Operation) error {
	for _, leg := range op.Legs() {
		if err := b.applyLeg(leg); err != nil {
			return err
		}
	}
	if bid, _, ok := b.bids.Max(); ok {
		if ask, _, ok := b.asks.Min(); ok && bid >= ask {
			return &InvariantViolation{Symbol: b.Symbol, Reason: fmt.Sprintf("crossed book: bid %d >= ask %d", bid, ask)}
		}
	}
	b.seq++
	return nil
}

func (b *OrderBook) applyLeg(leg orders.Leg) error {
	ladder, err := b.ladder(leg.Side)
	if err != nil {
		return err
	}
	if leg.Delta == 0 {
		return nil
	}
	cur, ok := ladder.Get(leg.Price)
	if leg.Delta > 0 {
		ladder.Set(leg.Price, cur+uint64(leg.Delta))
		return nil
	}
	dec := uint64(-leg.Delta)
	switch {
	case !ok:
		return &InvariantViolation{Symbol: b.Symbol, Side: leg.Side, Price: leg.Price, Reason: "reduction at missing level"}
	case dec > cur:
		return &InvariantViolation{Symbol: b.Symbol, Side: leg.Side, Price: leg.Price,
			Reason: fmt.Sprintf("level would go negative: %d - %d", cur, dec)}
	case dec == cur:
		ladder.Delete(leg.Price)
	default:
		ladder.Set(leg.Price, cur-dec)
	}
	return nil
}

// Seq is the number of operations applied so far.
func (b *OrderBook) Seq() uint64 { return b.seq }

// BestBid returns the highest bid level.
func (b *OrderBook) BestBid() (models.PriceLevel, bool) {
	p, s, ok := b.bids.Max()
	return models.PriceLevel{Price: p, Shares: s}, ok
}

// BestAsk returns the lowest ask level.
func (b *OrderBook) BestAsk() (models.PriceLevel, bool) {
	p, s, ok := b.asks.Min()
	return models.PriceLevel{Price: p, Shares: s}, ok
}

// Depth returns the number of levels on each side.
func (b *OrderBook) Depth() (bids, asks int) { return b.bids.Len(), b.asks.Len() }

// Level returns the aggregate size resting at price on side.
func (b *OrderBook) Level(side models.Side, price uint32) uint64 {
	ladder, err := b.ladder(side)
	if err != nil {
		return 0
	}
	s, _ := ladder.Get(price)
	return s
}

// Top returns up to n levels of one side, best first.
func (b *OrderBook) Top(side models.Side, n int) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, n)
	collect := func(price uint32, shares uint64) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, models.PriceLevel{Price: price, Shares: shares})
		return true
	}
	switch side {
	case models.SideBuy:
		b.bids.Reverse(collect)
	case models.SideSell:
		b.asks.Scan(collect)
	}
	return out
}

// Snapshot captures the top depth levels of both sides at the current sequence.
func (b *OrderBook) Snapshot(h models.Header, depth int) models.BookSnapshot {
	h.Symbol = b.Symbol
	return models.BookSnapshot{
		Header: h,
		Seq:    b.seq,
		Depth:  depth,
		Bids:   b.Top(models.SideBuy, depth),
		Asks:   b.Top(models.SideSell, depth),
	}
}

// Registry holds the books of one session and remembers symbols dropped
// after an integrity failure.
type Registry struct {
	depth   int
	books   map[string]*OrderBook
	dropped map[string]error
}

// NewRegistry creates books that snapshot depth levels per side.
func NewRegistry(depth int) *Registry {
	return &Registry{
		depth:   depth,
		books:   make(map[string]*OrderBook),
		dropped: make(map[string]error),
	}
}

// Depth is the number of levels per side in snapshots.
func (r *Registry) Depth() int { return r.depth }

// Book returns the book of symbol, creating it on first use. Dropped symbols have no book.
func (r *Registry) Book(symbol string) (*OrderBook, bool) {
	if _, gone := r.dropped[symbol]; gone {
		return nil, false
	}
	b, ok := r.books[symbol]
	if !ok {
		b = NewOrderBook(symbol)
		r.books[symbol] = b
	}
	return b, true
}

// Drop discards the book of symbol and records why.
func (r *Registry) Drop(symbol string, reason error) {
	delete(r.books, symbol)
	r.dropped[symbol] = reason
}

// IsDropped reports whether symbol was dropped.
func (r *Registry) IsDropped(symbol string) bool {
	_, ok := r.dropped[symbol]
	return ok
}

// DropReason returns the error that caused symbol to be dropped, or nil.
func (r *Registry) DropReason(symbol string) error {
	return r.dropped[symbol]
}

// DroppedSymbols returns the dropped symbols in sorted order.
func (r *Registry) DroppedSymbols() []string {
	out := make([]string, 0, len(r.dropped))
	for s := range r.dropped {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Symbols returns the symbols with a live book in sorted order.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.books))
	for s := range r.books {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
