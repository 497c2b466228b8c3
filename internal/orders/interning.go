// Symbol interning for the order table.
// Maps symbols to dense uint32 ids and back; ids are never reused within a run.

package orders

// SymbolInterning is owned by one pipeline goroutine and is not synchronised.
type SymbolInterning struct {
	symbols map[string]uint32
	ids     []string
}

func NewSymbolInterning() *SymbolInterning {
	return &SymbolInterning{
		symbols: make(map[string]uint32),
		ids:     make([]string, 0, 128),
	}
}

// Register returns the id of symbol, assigning the next id on first sight.
func (si *SymbolInterning) Register(symbol string) uint32 {
	if id, ok := si.symbols[symbol]; ok {
		return id
	}
	id := uint32(len(si.ids))
	si.symbols[symbol] = id
	si.ids = append(si.ids, symbol)
	return id
}

// Lookup returns the id of a symbol that has already been registered.
func (si *SymbolInterning) Lookup(symbol string) (uint32, bool) {
	id, ok := si.symbols[symbol]
	return id, ok
}

// Symbol returns the string for id, or "" if id was never assigned.
func (si *SymbolInterning) Symbol(id uint32) string {
	if int(id) < len(si.ids) {
		return si.ids[id]
	}
	return ""
}

// Len is the number of distinct symbols seen.
func (si *SymbolInterning) Len() int { return len(si.ids) }
