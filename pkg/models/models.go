package models

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of implied decimal places in ITCH price fields.
const PriceScale = 4

// Side of an order or trade as carried on the wire.
type Side byte

const (
	SideNone Side = 0
	SideBuy  Side = 'B'
	SideSell Side = 'S'
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "B"
	case SideSell:
		return "S"
	default:
		return "."
	}
}

// Code returns the signed integer encoding used by the array store (1 bid, -1 ask, 0 none).
func (s Side) Code() int64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// Stream identifies one of the derived output streams.
type Stream uint8

const (
	StreamMessages Stream = iota
	StreamBooks
	StreamTrades
	StreamSystem
	StreamImbalance
)

// Streams lists every output stream in flush order.
var Streams = []Stream{StreamMessages, StreamBooks, StreamTrades, StreamSystem, StreamImbalance}

func (s Stream) String() string {
	switch s {
	case StreamMessages:
		return "messages"
	case StreamBooks:
		return "books"
	case StreamTrades:
		return "trades"
	case StreamSystem:
		return "system"
	case StreamImbalance:
		return "imbalance"
	default:
		return fmt.Sprintf("stream(%d)", uint8(s))
	}
}

// ParseStream maps a stream name back to its Stream value.
func ParseStream(name string) (Stream, error) {
	for _, s := range Streams {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stream %q", name)
}

// DisplayPrice converts integer ticks to a decimal price. Presentation only.
func DisplayPrice(ticks uint32) decimal.Decimal {
	return decimal.New(int64(ticks), -PriceScale)
}

// Header is the metadata shared by every record.
type Header struct {
	Date   string `json:"date"`
	Symbol string `json:"symbol,omitempty"`
	Sec    uint32 `json:"sec"`
	Nano   uint32 `json:"nano"`
}

// Meta returns the record header.
func (h Header) Meta() Header { return h }

// Record is a single row of one output stream.
type Record interface {
	Stream() Stream
	Meta() Header
	// Array encodes the record as a row of integers for the array store.
	Array() []int64
	// Row encodes the record as delimited text fields.
	Row() []string
}

// MessageRecord is a book-affecting message completed with the state of the order it refers to.
// Shares is signed: positive for adds, negative for executions, cancels and deletes.
type MessageRecord struct {
	Header
	Seq       uint64 `json:"seq"`
	Type      byte   `json:"type"`
	Side      Side   `json:"side"`
	Price     uint32 `json:"price"`
	Shares    int64  `json:"shares"`
	RefNo     uint64 `json:"refno"`
	NewRefNo  uint64 `json:"newrefno,omitempty"`
	OldPrice  uint32 `json:"old_price,omitempty"`
	OldShares uint32 `json:"old_shares,omitempty"`
	MatchNo   uint64 `json:"matchno,omitempty"`
	ExecPrice uint32 `json:"exec_price,omitempty"`
	MPID      string `json:"mpid,omitempty"`
}

func (MessageRecord) Stream() Stream { return StreamMessages }

// MessageTypeCode maps message tags to the integer codes of the array store.
func MessageTypeCode(tag byte) int64 {
	switch tag {
	case 'T':
		return 0
	case 'S':
		return 1
	case 'A', 'F':
		return 2
	case 'X':
		return 3
	case 'D':
		return 4
	case 'E':
		return 5
	case 'C':
		return 6
	case 'U':
		return 7
	case 'P':
		return 8
	default:
		return -1
	}
}

func (m MessageRecord) Array() []int64 {
	return []int64{
		int64(m.Seq),
		int64(m.Sec),
		int64(m.Nano),
		MessageTypeCode(m.Type),
		m.Side.Code(),
		int64(m.Price),
		m.Shares,
		int64(m.RefNo),
		int64(m.NewRefNo),
	}
}

func (m MessageRecord) Row() []string {
	mpid := m.MPID
	if mpid == "" {
		mpid = "."
	}
	return []string{
		strconv.FormatUint(m.Seq, 10),
		strconv.FormatUint(uint64(m.Sec), 10),
		strconv.FormatUint(uint64(m.Nano), 10),
		m.Symbol,
		string(m.Type),
		strconv.FormatUint(m.RefNo, 10),
		strconv.FormatUint(m.NewRefNo, 10),
		m.Side.String(),
		strconv.FormatInt(m.Shares, 10),
		DisplayPrice(m.Price).String(),
		mpid,
	}
}

// PriceLevel is the aggregate of all live orders at one price on one side.
type PriceLevel struct {
	Price  uint32 `json:"price"`
	Shares uint64 `json:"shares"`
}

// BookSnapshot is the top Depth levels per side after one book-affecting message.
type BookSnapshot struct {
	Header
	Seq   uint64       `json:"seq"`
	Depth int          `json:"depth"`
	Bids  []PriceLevel `json:"bids"`
	Asks  []PriceLevel `json:"asks"`
}

func (BookSnapshot) Stream() Stream { return StreamBooks }

// Array lays out prices then volumes, bids before asks, zero padded to Depth:
// seq, sec, nano, bid_prc_1..N, ask_prc_1..N, bid_vol_1..N, ask_vol_1..N.
func (b BookSnapshot) Array() []int64 {
	n := b.Depth
	out := make([]int64, 3+4*n)
	out[0], out[1], out[2] = int64(b.Seq), int64(b.Sec), int64(b.Nano)
	for i := 0; i < n; i++ {
		if i < len(b.Bids) {
			out[3+i] = int64(b.Bids[i].Price)
			out[3+2*n+i] = int64(b.Bids[i].Shares)
		}
		if i < len(b.Asks) {
			out[3+n+i] = int64(b.Asks[i].Price)
			out[3+3*n+i] = int64(b.Asks[i].Shares)
		}
	}
	return out
}

func (b BookSnapshot) Row() []string {
	n := b.Depth
	row := make([]string, 0, 4+4*n)
	row = append(row,
		strconv.FormatUint(b.Seq, 10),
		strconv.FormatUint(uint64(b.Sec), 10),
		strconv.FormatUint(uint64(b.Nano), 10),
		b.Symbol,
	)
	prices := func(levels []PriceLevel) {
		for i := 0; i < n; i++ {
			if i < len(levels) {
				row = append(row, DisplayPrice(levels[i].Price).String())
			} else {
				row = append(row, "")
			}
		}
	}
	volumes := func(levels []PriceLevel) {
		for i := 0; i < n; i++ {
			if i < len(levels) {
				row = append(row, strconv.FormatUint(levels[i].Shares, 10))
			} else {
				row = append(row, "")
			}
		}
	}
	prices(b.Bids)
	prices(b.Asks)
	volumes(b.Bids)
	volumes(b.Asks)
	return row
}

// TradeRecord is an execution against non-displayed liquidity.
type TradeRecord struct {
	Header
	Side    Side   `json:"side"`
	Price   uint32 `json:"price"`
	Shares  uint32 `json:"shares"`
	RefNo   uint64 `json:"refno"`
	MatchNo uint64 `json:"matchno"`
}

func (TradeRecord) Stream() Stream { return StreamTrades }

func (t TradeRecord) Array() []int64 {
	return []int64{
		int64(t.Sec),
		int64(t.Nano),
		t.Side.Code(),
		int64(t.Price),
		int64(t.Shares),
		int64(t.MatchNo),
	}
}

func (t TradeRecord) Row() []string {
	return []string{
		strconv.FormatUint(uint64(t.Sec), 10),
		strconv.FormatUint(uint64(t.Nano), 10),
		t.Symbol,
		t.Side.String(),
		strconv.FormatUint(uint64(t.Shares), 10),
		DisplayPrice(t.Price).String(),
		strconv.FormatUint(t.MatchNo, 10),
	}
}

// SystemRecord is a market-wide system event (Type 'S', empty Symbol) or a
// per-symbol trading action (Type 'H').
type SystemRecord struct {
	Header
	Type   byte   `json:"type"`
	Event  byte   `json:"event"`
	Reason string `json:"reason,omitempty"`
}

func (SystemRecord) Stream() Stream { return StreamSystem }

// IsHalt reports whether the event suspends regular trading.
func (s SystemRecord) IsHalt() bool {
	switch s.Type {
	case 'S':
		return s.Event == 'A'
	case 'H':
		return s.Event == 'H' || s.Event == 'P'
	}
	return false
}

func (s SystemRecord) Array() []int64 {
	return []int64{int64(s.Sec), int64(s.Nano), int64(s.Type), int64(s.Event)}
}

func (s SystemRecord) Row() []string {
	symbol := s.Symbol
	if symbol == "" {
		symbol = "."
	}
	return []string{
		strconv.FormatUint(uint64(s.Sec), 10),
		strconv.FormatUint(uint64(s.Nano), 10),
		symbol,
		string(s.Type),
		string(s.Event),
		s.Reason,
	}
}

// ImbalanceRecord is a net order imbalance indicator (Type 'I') or a cross trade (Type 'Q').
type ImbalanceRecord struct {
	Header
	Type      byte   `json:"type"`
	Cross     byte   `json:"cross"`
	Price     uint32 `json:"price,omitempty"`
	Shares    uint64 `json:"shares,omitempty"`
	MatchNo   uint64 `json:"matchno,omitempty"`
	Paired    uint64 `json:"paired,omitempty"`
	Imbalance uint64 `json:"imbalance,omitempty"`
	Direction Side   `json:"direction,omitempty"`
	Far       uint32 `json:"far,omitempty"`
	Near      uint32 `json:"near,omitempty"`
	Current   uint32 `json:"current,omitempty"`
	Variation byte   `json:"variation,omitempty"`
}

func (ImbalanceRecord) Stream() Stream { return StreamImbalance }

func crossCode(c byte) int64 {
	switch c {
	case 'O':
		return 0
	case 'C':
		return 1
	case 'H':
		return 2
	case 'I':
		return 3
	default:
		return -1
	}
}

func (r ImbalanceRecord) Array() []int64 {
	kind := int64(-1)
	switch r.Type {
	case 'Q':
		kind = 0
	case 'I':
		kind = 1
	}
	return []int64{
		int64(r.Sec),
		int64(r.Nano),
		kind,
		crossCode(r.Cross),
		0,
		int64(r.Price),
		int64(r.Shares),
		int64(r.MatchNo),
		int64(r.Paired),
		int64(r.Imbalance),
		r.Direction.Code(),
		int64(r.Far),
		int64(r.Near),
		int64(r.Current),
	}
}

func (r ImbalanceRecord) Row() []string {
	return []string{
		strconv.FormatUint(uint64(r.Sec), 10),
		strconv.FormatUint(uint64(r.Nano), 10),
		r.Symbol,
		string(r.Type),
		string(r.Cross),
		strconv.FormatUint(r.Shares, 10),
		DisplayPrice(r.Price).String(),
		strconv.FormatUint(r.Paired, 10),
		strconv.FormatUint(r.Imbalance, 10),
		r.Direction.String(),
		DisplayPrice(r.Far).String(),
		DisplayPrice(r.Near).String(),
		DisplayPrice(r.Current).String(),
	}
}

// Columns returns the delimited-text header for a stream. depth only matters for books.
func Columns(s Stream, depth int) []string {
	switch s {
	case StreamMessages:
		return []string{"seq", "sec", "nano", "name", "type", "refno", "newrefno", "side", "shares", "price", "mpid"}
	case StreamBooks:
		cols := []string{"seq", "sec", "nano", "name"}
		for _, prefix := range []string{"bidprc", "askprc", "bidvol", "askvol"} {
			for i := 1; i <= depth; i++ {
				cols = append(cols, prefix+"."+strconv.Itoa(i))
			}
		}
		return cols
	case StreamTrades:
		return []string{"sec", "nano", "name", "side", "shares", "price", "matchno"}
	case StreamSystem:
		return []string{"sec", "nano", "name", "type", "event", "reason"}
	case StreamImbalance:
		return []string{"sec", "nano", "name", "type", "cross", "shares", "price", "paired", "imbalance", "direction", "far", "near", "current"}
	}
	return nil
}
