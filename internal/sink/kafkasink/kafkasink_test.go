package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestPublishesKeyedBySymbol(t *testing.T) {
	fw := &fakeWriter{}
	s := NewWithWriter(fw, "itch", zaptest.NewLogger(t))

	recs := []models.Record{
		models.TradeRecord{Header: models.Header{Date: "2013-01-02", Symbol: "AAPL"}, Shares: 10, Price: 100},
		models.TradeRecord{Header: models.Header{Date: "2013-01-02", Symbol: "AAPL"}, Shares: 20, Price: 101},
	}
	require.NoError(t, s.WriteBatch(context.Background(), sink.Batch{
		Stream: models.StreamTrades, Symbol: "AAPL", Date: "2013-01-02", Records: recs,
	}))

	require.Len(t, fw.msgs, 2)
	for i, m := range fw.msgs {
		assert.Equal(t, "itch.trades", m.Topic)
		assert.Equal(t, "AAPL", string(m.Key))
		var got models.TradeRecord
		require.NoError(t, json.Unmarshal(m.Value, &got))
		assert.Equal(t, recs[i], got)
	}
	assert.Equal(t, "date", fw.msgs[0].Headers[1].Key)

	require.NoError(t, s.Close())
	assert.True(t, fw.closed)
	assert.ErrorIs(t, s.WriteBatch(context.Background(), sink.Batch{}), sink.ErrClosed)
}

func TestPublishError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("leader not available")}
	s := NewWithWriter(fw, "", zaptest.NewLogger(t))
	assert.Equal(t, "books", s.Topic(models.StreamBooks))
	err := s.WriteBatch(context.Background(), sink.Batch{Stream: models.StreamSystem,
		Records: []models.Record{models.SystemRecord{Type: 'S', Event: 'O'}}})
	assert.ErrorContains(t, err, "leader not available")
}

func TestNewRequiresBrokers(t *testing.T) {
	_, err := New(DefaultConfig(), zaptest.NewLogger(t))
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Brokers = []string{"localhost:9092"}
	s, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
