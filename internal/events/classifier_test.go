package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/itchbook/internal/itch"
	"github.com/Aidin1998/itchbook/pkg/models"
)

func TestClassify(t *testing.T) {
	c := NewClassifier("2013-01-02")

	tests := []struct {
		name   string
		msg    itch.Message
		stream models.Stream
		want   models.Record
	}{
		{
			name:   "system event",
			msg:    itch.Message{Type: 'S', Sec: 34200, Nano: 7, Event: itch.EventStartOfMarketHours},
			stream: models.StreamSystem,
			want:   models.SystemRecord{Header: models.Header{Date: "2013-01-02", Sec: 34200, Nano: 7}, Type: 'S', Event: 'Q'},
		},
		{
			name:   "trading halt",
			msg:    itch.Message{Type: 'H', Stock: "AAPL", Event: 'H', Reason: "T1"},
			stream: models.StreamSystem,
			want:   models.SystemRecord{Header: models.Header{Date: "2013-01-02", Symbol: "AAPL"}, Type: 'H', Event: 'H', Reason: "T1"},
		},
		{
			name:   "hidden trade",
			msg:    itch.Message{Type: 'P', Stock: "AAPL", Side: models.SideBuy, Shares: 100, Price: 100_0000, MatchNo: 5},
			stream: models.StreamTrades,
			want: models.TradeRecord{Header: models.Header{Date: "2013-01-02", Symbol: "AAPL"},
				Side: models.SideBuy, Shares: 100, Price: 100_0000, MatchNo: 5},
		},
		{
			name:   "cross trade",
			msg:    itch.Message{Type: 'Q', Stock: "AAPL", CrossShares: 9000, Price: 100_0000, MatchNo: 6, CrossType: 'O'},
			stream: models.StreamImbalance,
			want: models.ImbalanceRecord{Header: models.Header{Date: "2013-01-02", Symbol: "AAPL"},
				Type: 'Q', Cross: 'O', Shares: 9000, Price: 100_0000, MatchNo: 6},
		},
		{
			name: "noii",
			msg: itch.Message{Type: 'I', Stock: "AAPL", Paired: 10, Imbalance: 4, Direction: models.SideSell,
				Far: 1, Near: 2, Current: 3, CrossType: 'C', Variation: 'L'},
			stream: models.StreamImbalance,
			want: models.ImbalanceRecord{Header: models.Header{Date: "2013-01-02", Symbol: "AAPL"},
				Type: 'I', Cross: 'C', Paired: 10, Imbalance: 4, Direction: models.SideSell,
				Far: 1, Near: 2, Current: 3, Variation: 'L'},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := c.Classify(&tt.msg)
			require.True(t, ok)
			assert.Equal(t, tt.stream, rec.Stream())
			assert.Equal(t, tt.want, rec)
		})
	}
}

func TestClassifyIgnoresBookMessages(t *testing.T) {
	c := NewClassifier("2013-01-02")
	for _, tag := range []byte("TAFECXDU") {
		_, ok := c.Classify(&itch.Message{Type: tag})
		assert.False(t, ok, "tag %q", tag)
	}
}

func TestHaltsAreData(t *testing.T) {
	c := NewClassifier("2013-01-02")
	rec, ok := c.Classify(&itch.Message{Type: 'H', Stock: "AAPL", Event: 'H'})
	require.True(t, ok)
	assert.True(t, rec.(models.SystemRecord).IsHalt())

	rec, _ = c.Classify(&itch.Message{Type: 'H', Stock: "AAPL", Event: 'T'})
	assert.False(t, rec.(models.SystemRecord).IsHalt())
}
