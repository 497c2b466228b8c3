package buffer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/models"
)

const date = "2013-01-02"

func trade(symbol string, shares uint32) models.TradeRecord {
	return models.TradeRecord{Header: models.Header{Date: date, Symbol: symbol}, Shares: shares}
}

func TestInvalidCapacity(t *testing.T) {
	_, err := New(sink.NewMemory(), date, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestFlushExactlyAtCapacity(t *testing.T) {
	ctx := context.Background()
	mem := sink.NewMemory()
	c, err := New(mem, date, 3, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, c.Append(ctx, trade("AAPL", 1)))
	require.NoError(t, c.Append(ctx, trade("AAPL", 2)))
	assert.Equal(t, 2, c.Resident(models.StreamTrades))
	assert.Empty(t, mem.Batches())

	require.NoError(t, c.Append(ctx, trade("AAPL", 3)))
	assert.Equal(t, 0, c.Resident(models.StreamTrades))
	require.Len(t, mem.Batches(), 1)
	b := mem.Batches()[0]
	assert.Equal(t, models.StreamTrades, b.Stream)
	assert.Equal(t, "AAPL", b.Symbol)
	assert.Equal(t, date, b.Date)
	assert.Equal(t, []models.Record{trade("AAPL", 1), trade("AAPL", 2), trade("AAPL", 3)}, b.Records)
}

func TestResidentNeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	mem := sink.NewMemory()
	c, err := New(mem, date, 4, zaptest.NewLogger(t))
	require.NoError(t, err)

	symbols := []string{"AAPL", "MSFT", "GE"}
	for i := 0; i < 101; i++ {
		require.NoError(t, c.Append(ctx, trade(symbols[i%3], uint32(i))))
		assert.LessOrEqual(t, c.Resident(models.StreamTrades), 4)
	}
	require.NoError(t, c.FlushAll(ctx))
	assert.Zero(t, c.Resident(models.StreamTrades))

	// every record arrives exactly once, in order per symbol
	total := 0
	for _, sym := range symbols {
		recs := mem.Records(models.StreamTrades, sym)
		total += len(recs)
		prev := -1
		for _, r := range recs {
			shares := int(r.(models.TradeRecord).Shares)
			assert.Greater(t, shares, prev)
			prev = shares
		}
	}
	assert.Equal(t, 101, total)
	assert.Equal(t, 101, c.Stats().Records[models.StreamTrades])
	assert.Equal(t, 26, c.Stats().Flushes[models.StreamTrades])
}

func TestFlushGroupsBySymbolInFirstSeenOrder(t *testing.T) {
	ctx := context.Background()
	mem := sink.NewMemory()
	c, err := New(mem, date, 10, zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, sym := range []string{"MSFT", "AAPL", "MSFT", "GE", "AAPL"} {
		require.NoError(t, c.Append(ctx, trade(sym, 1)))
	}
	require.NoError(t, c.Flush(ctx, models.StreamTrades))

	var order []string
	for _, b := range mem.Batches() {
		order = append(order, b.Symbol)
	}
	assert.Equal(t, []string{"MSFT", "AAPL", "GE"}, order)
	assert.Len(t, mem.Batches()[0].Records, 2)
}

func TestStreamsAreIndependent(t *testing.T) {
	ctx := context.Background()
	mem := sink.NewMemory()
	c, err := New(mem, date, 2, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, c.Append(ctx, trade("AAPL", 1)))
	require.NoError(t, c.Append(ctx, models.SystemRecord{Header: models.Header{Date: date}, Type: 'S', Event: 'O'}))
	assert.Equal(t, 1, c.Resident(models.StreamTrades))
	assert.Equal(t, 1, c.Resident(models.StreamSystem))
	assert.Empty(t, mem.Batches())

	require.NoError(t, c.FlushAll(ctx))
	assert.Len(t, mem.Batches(), 2)
	assert.Len(t, mem.Records(models.StreamSystem, ""), 1)
}

type brokenSink struct{ calls int }

func (b *brokenSink) WriteBatch(context.Context, sink.Batch) error {
	b.calls++
	return errors.New("connection reset")
}
func (b *brokenSink) Close() error { return nil }

func TestSinkErrorIsFatal(t *testing.T) {
	ctx := context.Background()
	bs := &brokenSink{}
	c, err := New(bs, date, 1, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = c.Append(ctx, trade("AAPL", 1))
	var se *SinkError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.StreamTrades, se.Stream)
	assert.Equal(t, "AAPL", se.Symbol)
	assert.EqualError(t, errors.Unwrap(err), "connection reset")

	assert.ErrorAs(t, c.Append(ctx, trade("AAPL", 2)), &se)
	assert.ErrorAs(t, c.FlushAll(ctx), &se)
	assert.Equal(t, 1, bs.calls)
	assert.Equal(t, se, c.Err())
}
