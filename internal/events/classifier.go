// Package events routes the messages that do not touch the order book to
// their derived output streams.
package events

import (
	"github.com/Aidin1998/itchbook/internal/itch"
	"github.com/Aidin1998/itchbook/pkg/models"
)

// Classifier turns non-book messages into stream records. It holds no
// order or book state; halts and resumptions are emitted as data only.
type Classifier struct {
	date string
}

func NewClassifier(date string) *Classifier {
	return &Classifier{date: date}
}

// Classify maps S and H to the system stream, P to trades and I and Q to
// imbalance. Any other message yields ok == false.
func (c *Classifier) Classify(m *itch.Message) (models.Record, bool) {
	h := models.Header{Date: c.date, Symbol: m.Stock, Sec: m.Sec, Nano: m.Nano}
	switch m.Type {
	case 'S':
		h.Symbol = ""
		return models.SystemRecord{Header: h, Type: 'S', Event: m.Event}, true
	case 'H':
		return models.SystemRecord{Header: h, Type: 'H', Event: m.Event, Reason: m.Reason}, true
	case 'P':
		return models.TradeRecord{
			Header:  h,
			Side:    m.Side,
			Price:   m.Price,
			Shares:  m.Shares,
			RefNo:   m.RefNo,
			MatchNo: m.MatchNo,
		}, true
	case 'Q':
		return models.ImbalanceRecord{
			Header:  h,
			Type:    'Q',
			Cross:   m.CrossType,
			Price:   m.Price,
			Shares:  m.CrossShares,
			MatchNo: m.MatchNo,
		}, true
	case 'I':
		return models.ImbalanceRecord{
			Header:    h,
			Type:      'I',
			Cross:     m.CrossType,
			Paired:    m.Paired,
			Imbalance: m.Imbalance,
			Direction: m.Direction,
			Far:       m.Far,
			Near:      m.Near,
			Current:   m.Current,
			Variation: m.Variation,
		}, true
	}
	return nil, false
}
