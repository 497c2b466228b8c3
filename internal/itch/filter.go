package itch

import "sort"

// Decision is the verdict of the symbol filter on one frame.
type Decision uint8

const (
	Keep Decision = iota
	// SkipSymbol: the frame names a symbol that is not tracked.
	SkipSymbol
	// SkipReference: the frame refers to an order that is not live. That covers
	// orders of untracked symbols as well as references never seen at all.
	SkipReference
)

func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case SkipSymbol:
		return "symbol"
	case SkipReference:
		return "reference"
	}
	return "unknown"
}

// LiveSet answers whether an order reference is currently outstanding.
type LiveSet interface {
	Live(ref uint64) bool
}

// SymbolFilter rejects irrelevant frames from their raw bytes, before any decoding.
type SymbolFilter struct {
	version Version
	refs    LiveSet
	tracked map[string]struct{}
}

// NewSymbolFilter tracks the given symbols. refs decides delta messages.
func NewSymbolFilter(v Version, symbols []string, refs LiveSet) *SymbolFilter {
	tracked := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		tracked[s] = struct{}{}
	}
	return &SymbolFilter{version: v, refs: refs, tracked: tracked}
}

// Relevant inspects fr. Unknown tags surface as *UnknownTypeError; a payload
// too short to peek surfaces as *LayoutMismatchError.
func (f *SymbolFilter) Relevant(fr RawFrame) (Decision, error) {
	l, err := Lookup(f.version, fr.Tag)
	if err != nil {
		return Keep, err
	}
	switch {
	case CarriesStock(fr.Tag):
		stock, _, err := l.PeekStock(fr.Payload)
		if err != nil {
			return Keep, err
		}
		if _, ok := f.tracked[string(stock)]; !ok {
			return SkipSymbol, nil
		}
	case ReferencesOrder(fr.Tag):
		ref, _, err := l.PeekRefNo(fr.Payload)
		if err != nil {
			return Keep, err
		}
		if !f.refs.Live(ref) {
			return SkipReference, nil
		}
	}
	return Keep, nil
}

// Tracks reports whether symbol is still followed.
func (f *SymbolFilter) Tracks(symbol string) bool {
	_, ok := f.tracked[symbol]
	return ok
}

// Drop stops following symbol.
func (f *SymbolFilter) Drop(symbol string) {
	delete(f.tracked, symbol)
}

// Symbols returns the tracked symbols in sorted order.
func (f *SymbolFilter) Symbols() []string {
	out := make([]string, 0, len(f.tracked))
	for s := range f.tracked {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
