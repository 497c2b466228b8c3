package itch

import "github.com/Aidin1998/itchbook/pkg/models"

// Message is a decoded ITCH message. Only the fields carried by the layout of
// Type are populated; everything else stays zero.
//
// Sec and Nano form the message timestamp. Under versions with seconds
// messages the decoder fills only Nano (and Sec for 'T' itself); the caller
// supplies Sec from the most recent 'T'.
type Message struct {
	Type byte
	Sec  uint32
	Nano uint32

	Locate   uint16
	Tracking uint16

	Event    byte // system event code ('S') or trading state ('H')
	Stock    string
	Reserved byte
	Reason   string

	RefNo    uint64
	NewRefNo uint64
	Side     models.Side
	Shares   uint32
	Price    uint32
	MPID     string

	MatchNo   uint64
	Printable byte
	ExecPrice uint32

	CrossShares uint64
	CrossType   byte

	Paired    uint64
	Imbalance uint64
	Direction models.Side
	Far       uint32
	Near      uint32
	Current   uint32
	Variation byte
}

// System event codes carried by 'S' messages.
const (
	EventStartOfMessages    byte = 'O'
	EventStartOfSystemHours byte = 'S'
	EventStartOfMarketHours byte = 'Q'
	EventEndOfMarketHours   byte = 'M'
	EventEndOfSystemHours   byte = 'E'
	EventEndOfMessages      byte = 'C'
)

// EndOfMessages reports whether m is the system event that closes the feed.
func (m *Message) EndOfMessages() bool {
	return m.Type == 'S' && m.Event == EventEndOfMessages
}

// AffectsBook reports whether messages of this type change the visible order book.
func AffectsBook(tag byte) bool {
	switch tag {
	case 'A', 'F', 'E', 'C', 'X', 'D', 'U':
		return true
	}
	return false
}

// CarriesStock reports whether the layout of tag includes a symbol.
func CarriesStock(tag byte) bool {
	switch tag {
	case 'A', 'F', 'H', 'P', 'Q', 'I':
		return true
	}
	return false
}

// ReferencesOrder reports whether tag refers back to a previously added order.
func ReferencesOrder(tag byte) bool {
	switch tag {
	case 'E', 'C', 'X', 'D', 'U':
		return true
	}
	return false
}
