package itch

// Layout registry: one fixed binary layout per (version, type tag).
//
// Offsets are relative to the payload, i.e. the bytes that follow the type tag.
// All integers are big-endian; alpha fields are ASCII padded on the right with spaces.

// Field names every value a layout can carry.
type Field uint8

const (
	FieldSeconds Field = iota
	FieldNanos
	FieldLocate
	FieldTracking
	FieldEvent
	FieldStock
	FieldState
	FieldReserved
	FieldReason
	FieldRefNo
	FieldNewRefNo
	FieldSide
	FieldShares
	FieldPrice
	FieldMPID
	FieldMatchNo
	FieldPrintable
	FieldExecPrice
	FieldCrossShares
	FieldCrossType
	FieldPaired
	FieldImbalance
	FieldDirection
	FieldFar
	FieldNear
	FieldCurrent
	FieldVariation

	numFields
)

var fieldNames = [numFields]string{
	"seconds", "nanos", "locate", "tracking", "event", "stock", "state", "reserved",
	"reason", "refno", "newrefno", "side", "shares", "price", "mpid", "matchno",
	"printable", "exec_price", "cross_shares", "cross_type", "paired", "imbalance",
	"direction", "far", "near", "current", "variation",
}

func (f Field) String() string {
	if f < numFields {
		return fieldNames[f]
	}
	return "unknown"
}

// Codec says how the bytes of a field are interpreted.
type Codec uint8

const (
	// CodecUint is a big-endian unsigned integer of 1–8 bytes.
	CodecUint Codec = iota
	// CodecChar is a single ASCII code.
	CodecChar
	// CodecASCII is a right space-padded string.
	CodecASCII
)

// FieldSpec is one entry of a layout.
type FieldSpec struct {
	Name   Field
	Width  int
	Codec  Codec
	Offset int
}

// Layout is the ordered field list of one message type under one version.
type Layout struct {
	Version Version
	Tag     byte
	Fields  []FieldSpec
	Size    int

	index [numFields]int8
}

// Field returns the spec of a named field, if the layout carries it.
func (l *Layout) Field(name Field) (FieldSpec, bool) {
	i := l.index[name]
	if i < 0 {
		return FieldSpec{}, false
	}
	return l.Fields[i], true
}

// Has reports whether the layout carries the named field.
func (l *Layout) Has(name Field) bool { return l.index[name] >= 0 }

func u(name Field, width int) FieldSpec { return FieldSpec{Name: name, Width: width, Codec: CodecUint} }
func c(name Field) FieldSpec            { return FieldSpec{Name: name, Width: 1, Codec: CodecChar} }
func a(name Field, width int) FieldSpec { return FieldSpec{Name: name, Width: width, Codec: CodecASCII} }

func newLayout(v Version, tag byte, header []FieldSpec, body ...FieldSpec) *Layout {
	l := &Layout{Version: v, Tag: tag}
	for i := range l.index {
		l.index[i] = -1
	}
	fields := make([]FieldSpec, 0, len(header)+len(body))
	fields = append(fields, header...)
	fields = append(fields, body...)
	off := 0
	for i := range fields {
		fields[i].Offset = off
		off += fields[i].Width
		l.index[fields[i].Name] = int8(i)
	}
	l.Fields = fields
	l.Size = off
	return l
}

// buildLayouts produces the table of one version. stock is the width of the
// symbol field; header precedes the body of every message except 'T'.
func buildLayouts(v Version, stock int, header []FieldSpec) map[byte]*Layout {
	table := map[byte]*Layout{
		'S': newLayout(v, 'S', header, c(FieldEvent)),
		'H': newLayout(v, 'H', header, a(FieldStock, stock), c(FieldState), c(FieldReserved), a(FieldReason, 4)),
		'A': newLayout(v, 'A', header, u(FieldRefNo, 8), c(FieldSide), u(FieldShares, 4), a(FieldStock, stock), u(FieldPrice, 4)),
		'F': newLayout(v, 'F', header, u(FieldRefNo, 8), c(FieldSide), u(FieldShares, 4), a(FieldStock, stock), u(FieldPrice, 4), a(FieldMPID, 4)),
		'E': newLayout(v, 'E', header, u(FieldRefNo, 8), u(FieldShares, 4), u(FieldMatchNo, 8)),
		'C': newLayout(v, 'C', header, u(FieldRefNo, 8), u(FieldShares, 4), u(FieldMatchNo, 8), c(FieldPrintable), u(FieldExecPrice, 4)),
		'X': newLayout(v, 'X', header, u(FieldRefNo, 8), u(FieldShares, 4)),
		'D': newLayout(v, 'D', header, u(FieldRefNo, 8)),
		'U': newLayout(v, 'U', header, u(FieldRefNo, 8), u(FieldNewRefNo, 8), u(FieldShares, 4), u(FieldPrice, 4)),
		'P': newLayout(v, 'P', header, u(FieldRefNo, 8), c(FieldSide), u(FieldShares, 4), a(FieldStock, stock), u(FieldPrice, 4), u(FieldMatchNo, 8)),
		'Q': newLayout(v, 'Q', header, u(FieldCrossShares, 8), a(FieldStock, stock), u(FieldPrice, 4), u(FieldMatchNo, 8), c(FieldCrossType)),
		'I': newLayout(v, 'I', header, u(FieldPaired, 8), u(FieldImbalance, 8), c(FieldDirection), a(FieldStock, stock),
			u(FieldFar, 4), u(FieldNear, 4), u(FieldCurrent, 4), c(FieldCrossType), c(FieldVariation)),
	}
	if v.HasSecondsMessages() {
		table['T'] = newLayout(v, 'T', nil, u(FieldSeconds, 4))
	}
	return table
}

var registry = map[Version]map[byte]*Layout{
	V40: buildLayouts(V40, 6, []FieldSpec{u(FieldNanos, 4)}),
	V41: buildLayouts(V41, 8, []FieldSpec{u(FieldNanos, 4)}),
	V50: buildLayouts(V50, 8, []FieldSpec{u(FieldLocate, 2), u(FieldTracking, 2), u(FieldNanos, 6)}),
}

// Lookup returns the layout of tag under version v.
func Lookup(v Version, tag byte) (*Layout, error) {
	table, ok := registry[v]
	if !ok {
		return nil, ErrUnsupportedVersion
	}
	l, ok := table[tag]
	if !ok {
		return nil, &UnknownTypeError{Version: v, Tag: tag}
	}
	return l, nil
}

// Tags lists the type tags known to version v.
func Tags(v Version) []byte {
	out := make([]byte, 0, len(registry[v]))
	for _, tag := range []byte("TSHAFECXDUPQI") {
		if _, ok := registry[v][tag]; ok {
			out = append(out, tag)
		}
	}
	return out
}
