// =============================
// Outstanding order reference table
// =============================
// Every live order of the tracked symbols, keyed by its reference number.
// Records live in a dense slab; freed slots are recycled through a free list
// and the index maps reference numbers to slab positions.
//
// Each mutation returns an Operation describing the signed change it makes to
// the aggregate book, so the book never needs to see individual orders.

package orders

import (
	"errors"
	"fmt"

	"github.com/Aidin1998/itchbook/pkg/models"
)

var (
	ErrDuplicateReference = errors.New("orders: reference already live")
	ErrUnknownReference   = errors.New("orders: unknown reference")
	ErrInsufficientShares = errors.New("orders: reduction exceeds remaining shares")
)

// OrderRecord is the resting state of one order.
type OrderRecord struct {
	RefNo  uint64
	Symbol string
	Side   models.Side
	Price  uint32
	Shares uint32
}

type slot struct {
	ref    uint64
	symbol uint32
	side   models.Side
	price  uint32
	shares uint32
}

// Leg is one signed change to one price level.
type Leg struct {
	Side  models.Side
	Price uint32
	Delta int64
}

// Operation is the book effect of one mutation. Replace produces two legs.
type Operation struct {
	Kind     byte
	Symbol   string
	RefNo    uint64
	NewRefNo uint64
	Side     models.Side
	// Price is the price of the order after the operation (the new price for a replace).
	Price uint32
	// Shares is the signed size of the change: positive for adds and the new
	// size of a replace, negative for reductions.
	Shares int64
	// Remaining is what is left of the order afterwards.
	Remaining uint32

	legs [2]Leg
	n    int
}

// Legs returns the level changes of the operation in application order.
func (op *Operation) Legs() []Leg { return op.legs[:op.n] }

func (op *Operation) addLeg(side models.Side, price uint32, delta int64) {
	op.legs[op.n] = Leg{Side: side, Price: price, Delta: delta}
	op.n++
}

// Table is the order reference table of one pipeline. It is not safe for
// concurrent use.
type Table struct {
	slab    []slot
	free    []int32
	index   map[uint64]int32
	symbols *SymbolInterning
}

// NewTable sizes the arena for sizeHint simultaneously live orders.
func NewTable(sizeHint int) *Table {
	if sizeHint <= 0 {
		sizeHint = 1024
	}
	return &Table{
		slab:    make([]slot, 0, sizeHint),
		index:   make(map[uint64]int32, sizeHint),
		symbols: NewSymbolInterning(),
	}
}

// Len is the number of live orders.
func (t *Table) Len() int { return len(t.index) }

// Live reports whether ref is an outstanding order.
func (t *Table) Live(ref uint64) bool {
	_, ok := t.index[ref]
	return ok
}

// Get returns a copy of the live order ref.
func (t *Table) Get(ref uint64) (OrderRecord, bool) {
	i, ok := t.index[ref]
	if !ok {
		return OrderRecord{}, false
	}
	s := &t.slab[i]
	return OrderRecord{RefNo: s.ref, Symbol: t.symbols.Symbol(s.symbol), Side: s.side, Price: s.price, Shares: s.shares}, true
}

func (t *Table) insert(s slot) {
	var i int32
	if n := len(t.free); n > 0 {
		i = t.free[n-1]
		t.free = t.free[:n-1]
		t.slab[i] = s
	} else {
		i = int32(len(t.slab))
		t.slab = append(t.slab, s)
	}
	t.index[s.ref] = i
}

func (t *Table) remove(ref uint64, i int32) {
	t.slab[i] = slot{}
	t.free = append(t.free, i)
	delete(t.index, ref)
}

// Add registers a new order.
func (t *Table) Add(ref uint64, symbol string, side models.Side, price, shares uint32) (Operation, error) {
	if t.Live(ref) {
		return Operation{}, fmt.Errorf("%w: %d", ErrDuplicateReference, ref)
	}
	t.insert(slot{ref: ref, symbol: t.symbols.Register(symbol), side: side, price: price, shares: shares})
	op := Operation{Kind: 'A', Symbol: symbol, RefNo: ref, Side: side, Price: price, Shares: int64(shares), Remaining: shares}
	op.addLeg(side, price, int64(shares))
	return op, nil
}

// Execute reduces ref by an execution against it.
func (t *Table) Execute(ref uint64, shares uint32) (Operation, error) {
	return t.reduce('E', ref, shares)
}

// Cancel reduces ref by a partial cancellation.
func (t *Table) Cancel(ref uint64, shares uint32) (Operation, error) {
	return t.reduce('X', ref, shares)
}

func (t *Table) reduce(kind byte, ref uint64, shares uint32) (Operation, error) {
	i, ok := t.index[ref]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %d", ErrUnknownReference, ref)
	}
	s := &t.slab[i]
	if shares > s.shares {
		return Operation{}, fmt.Errorf("%w: ref %d has %d, reduce by %d", ErrInsufficientShares, ref, s.shares, shares)
	}
	op := Operation{Kind: kind, Symbol: t.symbols.Symbol(s.symbol), RefNo: ref, Side: s.side, Price: s.price, Shares: -int64(shares)}
	op.addLeg(s.side, s.price, -int64(shares))
	s.shares -= shares
	op.Remaining = s.shares
	if s.shares == 0 {
		t.remove(ref, i)
	}
	return op, nil
}

// Delete removes ref and whatever remains of it.
func (t *Table) Delete(ref uint64) (Operation, error) {
	i, ok := t.index[ref]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %d", ErrUnknownReference, ref)
	}
	s := t.slab[i]
	op := Operation{Kind: 'D', Symbol: t.symbols.Symbol(s.symbol), RefNo: ref, Side: s.side, Price: s.price, Shares: -int64(s.shares)}
	op.addLeg(s.side, s.price, -int64(s.shares))
	t.remove(ref, i)
	return op, nil
}

// Replace retires ref and adds newRef on the same side and symbol. Nothing
// changes unless both steps can be applied.
func (t *Table) Replace(ref, newRef uint64, price, shares uint32) (Operation, error) {
	i, ok := t.index[ref]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %d", ErrUnknownReference, ref)
	}
	if t.Live(newRef) {
		return Operation{}, fmt.Errorf("%w: replacement %d of %d", ErrDuplicateReference, newRef, ref)
	}
	old := t.slab[i]
	op := Operation{
		Kind:      'U',
		Symbol:    t.symbols.Symbol(old.symbol),
		RefNo:     ref,
		NewRefNo:  newRef,
		Side:      old.side,
		Price:     price,
		Shares:    int64(shares),
		Remaining: shares,
	}
	op.addLeg(old.side, old.price, -int64(old.shares))
	op.addLeg(old.side, price, int64(shares))
	t.remove(ref, i)
	t.insert(slot{ref: newRef, symbol: old.symbol, side: old.side, price: price, shares: shares})
	return op, nil
}

// PurgeSymbol removes every live order of symbol and returns how many were removed.
func (t *Table) PurgeSymbol(symbol string) int {
	id, ok := t.symbols.Lookup(symbol)
	if !ok {
		return 0
	}
	var refs []uint64
	for ref, i := range t.index {
		if t.slab[i].symbol == id {
			refs = append(refs, ref)
		}
	}
	for _, ref := range refs {
		t.remove(ref, t.index[ref])
	}
	return len(refs)
}

// Each calls fn for every live order until fn returns false. Order is unspecified.
func (t *Table) Each(fn func(OrderRecord) bool) {
	for _, i := range t.index {
		s := &t.slab[i]
		if !fn(OrderRecord{RefNo: s.ref, Symbol: t.symbols.Symbol(s.symbol), Side: s.side, Price: s.price, Shares: s.shares}) {
			return
		}
	}
}
