package book

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/itchbook/internal/orders"
	"github.com/Aidin1998/itchbook/pkg/models"
)

func mustAdd(t *testing.T, tbl *orders.Table, b *OrderBook, ref uint64, side models.Side, price, shares uint32) {
	t.Helper()
	op, err := tbl.Add(ref, b.Symbol, side, price, shares)
	require.NoError(t, err)
	require.NoError(t, b.Apply(op))
}

func TestApplyAndSnapshot(t *testing.T) {
	tbl := orders.NewTable(8)
	b := NewOrderBook("AAPL")

	mustAdd(t, tbl, b, 1, models.SideBuy, 100_0000, 100)
	mustAdd(t, tbl, b, 2, models.SideBuy, 100_0000, 50)
	mustAdd(t, tbl, b, 3, models.SideBuy, 99_9900, 10)
	mustAdd(t, tbl, b, 4, models.SideSell, 100_0100, 30)

	snap := b.Snapshot(models.Header{Date: "2013-01-02", Sec: 34200, Nano: 5}, 2)
	assert.Equal(t, "AAPL", snap.Symbol)
	assert.Equal(t, uint64(4), snap.Seq)
	assert.Equal(t, []models.PriceLevel{{Price: 100_0000, Shares: 150}, {Price: 99_9900, Shares: 10}}, snap.Bids)
	assert.Equal(t, []models.PriceLevel{{Price: 100_0100, Shares: 30}}, snap.Asks)

	op, err := tbl.Delete(2)
	require.NoError(t, err)
	require.NoError(t, b.Apply(op))
	assert.Equal(t, uint64(100), b.Level(models.SideBuy, 100_0000))

	op, err = tbl.Delete(1)
	require.NoError(t, err)
	require.NoError(t, b.Apply(op))
	best, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, uint32(99_9900), best.Price)
	bids, asks := b.Depth()
	assert.Equal(t, 1, bids)
	assert.Equal(t, 1, asks)
}

func TestReplaceMovesLevel(t *testing.T) {
	tbl := orders.NewTable(8)
	b := NewOrderBook("AAPL")
	mustAdd(t, tbl, b, 1, models.SideBuy, 100_0000, 100)

	op, err := tbl.Replace(1, 2, 101_0000, 50)
	require.NoError(t, err)
	require.NoError(t, b.Apply(op))

	assert.Zero(t, b.Level(models.SideBuy, 100_0000))
	assert.Equal(t, uint64(50), b.Level(models.SideBuy, 101_0000))
	assert.Equal(t, []models.PriceLevel{{Price: 101_0000, Shares: 50}}, b.Top(models.SideBuy, 5))
}

func TestCrossedAndLockedBooksAreViolations(t *testing.T) {
	for name, askPrice := range map[string]uint32{"locked": 100, "crossed": 99} {
		t.Run(name, func(t *testing.T) {
			tbl := orders.NewTable(8)
			b := NewOrderBook("AAPL")
			mustAdd(t, tbl, b, 1, models.SideBuy, 100, 10)

			op, err := tbl.Add(2, "AAPL", models.SideSell, askPrice, 10)
			require.NoError(t, err)
			err = b.Apply(op)
			var iv *InvariantViolation
			require.True(t, errors.As(err, &iv))
			assert.Equal(t, "AAPL", iv.Symbol)
			assert.Equal(t, uint64(1), b.Seq(), "failed apply does not advance the sequence")
		})
	}
}

func TestNegativeLevelIsViolation(t *testing.T) {
	b := NewOrderBook("AAPL")
	op, err := orders.NewTable(1).Add(1, "AAPL", models.SideBuy, 100, 10)
	require.NoError(t, err)
	require.NoError(t, b.Apply(op))

	tbl := orders.NewTable(1)
	_, err = tbl.Add(9, "AAPL", models.SideBuy, 100, 20)
	require.NoError(t, err)
	del, err := tbl.Delete(9)
	require.NoError(t, err)

	var iv *InvariantViolation
	require.ErrorAs(t, b.Apply(del), &iv)
	assert.Equal(t, uint32(100), iv.Price)

	missing, err := tbl.Add(10, "AAPL", models.SideSell, 500, 1)
	require.NoError(t, err)
	missing, err = tbl.Delete(10)
	require.NoError(t, err)
	require.ErrorAs(t, b.Apply(missing), &iv)
}

// Random add/execute/cancel/delete/replace sequences keep every level equal
// to the sum of the live orders resting at it, and never cross the book.
func TestAggregatesMatchLiveOrders(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tbl := orders.NewTable(64)
	b := NewOrderBook("AAPL")
	nextRef := uint64(1)
	var live []uint64

	pick := func() (int, uint64) {
		i := rng.Intn(len(live))
		return i, live[i]
	}
	drop := func(i int) {
		live[i] = live[len(live)-1]
		live = live[:len(live)-1]
	}

	for step := 0; step < 5000; step++ {
		var op orders.Operation
		var err error
		switch k := rng.Intn(5); {
		case k == 0 || len(live) == 0:
			side := models.SideBuy
			price := uint32(900 + rng.Intn(100))
			if rng.Intn(2) == 0 {
				side = models.SideSell
				price = uint32(1000 + rng.Intn(100))
			}
			op, err = tbl.Add(nextRef, "AAPL", side, price, uint32(1+rng.Intn(500)))
			live = append(live, nextRef)
			nextRef++
		case k == 1:
			i, ref := pick()
			rec, _ := tbl.Get(ref)
			op, err = tbl.Execute(ref, uint32(1+rng.Intn(int(rec.Shares))))
			if !tbl.Live(ref) {
				drop(i)
			}
		case k == 2:
			i, ref := pick()
			rec, _ := tbl.Get(ref)
			op, err = tbl.Cancel(ref, uint32(1+rng.Intn(int(rec.Shares))))
			if !tbl.Live(ref) {
				drop(i)
			}
		case k == 3:
			i, ref := pick()
			op, err = tbl.Delete(ref)
			drop(i)
		default:
			i, ref := pick()
			rec, _ := tbl.Get(ref)
			price := uint32(900 + rng.Intn(100))
			if rec.Side == models.SideSell {
				price = uint32(1000 + rng.Intn(100))
			}
			op, err = tbl.Replace(ref, nextRef, price, uint32(1+rng.Intn(500)))
			live[i] = nextRef
			nextRef++
		}
		require.NoError(t, err, "step %d", step)
		require.NoError(t, b.Apply(op), "step %d", step)

		if step%250 == 0 {
			assertConsistent(t, tbl, b)
		}
	}
	assertConsistent(t, tbl, b)
}

func assertConsistent(t *testing.T, tbl *orders.Table, b *OrderBook) {
	t.Helper()
	want := map[models.Side]map[uint32]uint64{models.SideBuy: {}, models.SideSell: {}}
	tbl.Each(func(r orders.OrderRecord) bool {
		want[r.Side][r.Price] += uint64(r.Shares)
		return true
	})
	for side, levels := range want {
		got := map[uint32]uint64{}
		for _, l := range b.Top(side, 1<<20) {
			require.NotZero(t, l.Shares)
			got[l.Price] = l.Shares
		}
		assert.Equal(t, levels, got, "side %s", side)
	}
	if bid, ok := b.BestBid(); ok {
		if ask, ok := b.BestAsk(); ok {
			assert.Less(t, bid.Price, ask.Price)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(3)
	b, ok := r.Book("AAPL")
	require.True(t, ok)
	again, _ := r.Book("AAPL")
	assert.Same(t, b, again)

	reason := &InvariantViolation{Symbol: "AAPL", Reason: "crossed book"}
	r.Drop("AAPL", reason)
	_, ok = r.Book("AAPL")
	assert.False(t, ok)
	assert.True(t, r.IsDropped("AAPL"))
	assert.Equal(t, reason, r.DropReason("AAPL"))
	assert.Equal(t, []string{"AAPL"}, r.DroppedSymbols())
	assert.Empty(t, r.Symbols())
	assert.Equal(t, 3, r.Depth())
}
