package replay

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/itchbook/internal/buffer"
	"github.com/Aidin1998/itchbook/internal/itch"
	"github.com/Aidin1998/itchbook/internal/journal"
	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/models"
)

const date = "2013-01-02"

func feed(t *testing.T, v itch.Version, msgs ...itch.Message) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		require.NoError(t, itch.WriteFrame(&buf, v, m))
	}
	return &buf
}

func options(symbols ...string) Options {
	return Options{Version: itch.V41, Date: date, Symbols: symbols, Levels: 2, Capacity: 100}
}

func run(t *testing.T, opts Options, input *bytes.Buffer) (Result, *sink.Memory, *journal.Journal, error) {
	t.Helper()
	mem := sink.NewMemory()
	j := journal.New(nil, zaptest.NewLogger(t))
	p, err := NewPipeline(opts, mem, j, zaptest.NewLogger(t))
	require.NoError(t, err)
	res, err := p.Run(context.Background(), input)
	return res, mem, j, err
}

func books(mem *sink.Memory, symbol string) []models.BookSnapshot {
	var out []models.BookSnapshot
	for _, r := range mem.Records(models.StreamBooks, symbol) {
		out = append(out, r.(models.BookSnapshot))
	}
	return out
}

func lvl(price uint32, shares uint64) models.PriceLevel {
	return models.PriceLevel{Price: price, Shares: shares}
}

func TestEndToEndScenario(t *testing.T) {
	input := feed(t, itch.V41,
		itch.Message{Type: 'T', Sec: 0},
		itch.Message{Type: 'S', Nano: 100, Event: itch.EventStartOfMessages},
		itch.Message{Type: 'A', Nano: 200, Stock: "X", Side: models.SideBuy, Price: 1000, Shares: 500, RefNo: 1},
		itch.Message{Type: 'A', Nano: 300, Stock: "X", Side: models.SideBuy, Price: 999, Shares: 300, RefNo: 2},
		itch.Message{Type: 'E', Nano: 400, RefNo: 1, Shares: 200, MatchNo: 1},
		itch.Message{Type: 'D', Nano: 500, RefNo: 2},
	)
	res, mem, _, err := run(t, options("X"), input)
	require.NoError(t, err)

	snaps := books(mem, "X")
	require.Len(t, snaps, 4)
	assert.Equal(t, []models.PriceLevel{lvl(1000, 500)}, snaps[0].Bids)
	assert.Equal(t, []models.PriceLevel{lvl(1000, 500), lvl(999, 300)}, snaps[1].Bids)
	assert.Equal(t, []models.PriceLevel{lvl(1000, 300), lvl(999, 300)}, snaps[2].Bids)
	assert.Equal(t, []models.PriceLevel{lvl(1000, 300)}, snaps[3].Bids)
	for i, s := range snaps {
		assert.Empty(t, s.Asks)
		assert.Equal(t, uint64(i+1), s.Seq)
		assert.Equal(t, uint32(200+100*i), s.Nano)
		assert.Equal(t, date, s.Date)
	}

	msgs := mem.Records(models.StreamMessages, "X")
	require.Len(t, msgs, 4)
	exec := msgs[2].(models.MessageRecord)
	assert.Equal(t, byte('E'), exec.Type)
	assert.Equal(t, int64(-200), exec.Shares)
	assert.Equal(t, uint32(1000), exec.Price)
	assert.Equal(t, models.SideBuy, exec.Side)
	assert.Equal(t, snaps[2].Seq, exec.Seq)

	sys := mem.Records(models.StreamSystem, "")
	require.Len(t, sys, 1)
	assert.Equal(t, byte('O'), sys[0].(models.SystemRecord).Event)

	assert.Equal(t, uint64(6), res.Frames)
	assert.Equal(t, 1, res.LiveOrders)
	assert.Equal(t, 4, res.Records[models.StreamBooks])
	assert.Empty(t, res.DroppedSymbols)
}

func TestReplaceScenario(t *testing.T) {
	input := feed(t, itch.V50,
		itch.Message{Type: 'A', Sec: 34200, Nano: 1, Stock: "X", Side: models.SideSell, Price: 100, Shares: 10, RefNo: 5},
		itch.Message{Type: 'U', Sec: 34200, Nano: 2, RefNo: 5, NewRefNo: 6, Price: 105, Shares: 20},
	)
	opts := options("X")
	opts.Version = itch.V50
	_, mem, _, err := run(t, opts, input)
	require.NoError(t, err)

	snaps := books(mem, "X")
	require.Len(t, snaps, 2, "one snapshot per message, no intermediate state")
	assert.Equal(t, []models.PriceLevel{lvl(105, 20)}, snaps[1].Asks)
	assert.Empty(t, snaps[1].Bids)
	assert.Equal(t, uint32(34200), snaps[1].Sec)

	msgs := mem.Records(models.StreamMessages, "X")
	require.Len(t, msgs, 2)
	u := msgs[1].(models.MessageRecord)
	assert.Equal(t, uint64(5), u.RefNo)
	assert.Equal(t, uint64(6), u.NewRefNo)
	assert.Equal(t, models.SideSell, u.Side)
	assert.Equal(t, uint32(105), u.Price)
	assert.Equal(t, int64(20), u.Shares)
	assert.Equal(t, uint32(100), u.OldPrice)
	assert.Equal(t, uint32(10), u.OldShares)

	add := msgs[0].(models.MessageRecord)
	assert.Zero(t, add.OldPrice)
	assert.Zero(t, add.OldShares)
}

func TestSecondsClockAppliesToLaterMessages(t *testing.T) {
	input := feed(t, itch.V40,
		itch.Message{Type: 'T', Sec: 34200},
		itch.Message{Type: 'A', Nano: 7, Stock: "X", Side: models.SideBuy, Price: 10, Shares: 1, RefNo: 1},
		itch.Message{Type: 'T', Sec: 34201},
		itch.Message{Type: 'D', Nano: 8, RefNo: 1},
	)
	opts := options("X")
	opts.Version = itch.V40
	_, mem, _, err := run(t, opts, input)
	require.NoError(t, err)
	msgs := mem.Records(models.StreamMessages, "X")
	require.Len(t, msgs, 2)
	assert.Equal(t, uint32(34200), msgs[0].Meta().Sec)
	assert.Equal(t, uint32(34201), msgs[1].Meta().Sec)
	assert.Equal(t, uint32(8), msgs[1].Meta().Nano)
}

func TestDoubleDeleteAndUnknownReferenceDoNotAbort(t *testing.T) {
	input := feed(t, itch.V41,
		itch.Message{Type: 'A', Stock: "X", Side: models.SideBuy, Price: 10, Shares: 5, RefNo: 1},
		itch.Message{Type: 'D', RefNo: 1},
		itch.Message{Type: 'D', RefNo: 1},
		itch.Message{Type: 'E', RefNo: 99, Shares: 1},
		itch.Message{Type: 'A', Stock: "X", Side: models.SideBuy, Price: 11, Shares: 5, RefNo: 2},
	)
	res, mem, j, err := run(t, options("X"), input)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Skipped[itch.SkipReference.String()])
	assert.Zero(t, res.Anomalies[journal.KindUnknownReference], "unknown references are counted as reference skips")
	assert.Zero(t, j.Counts()[journal.KindUnknownReference])
	snaps := books(mem, "X")
	require.Len(t, snaps, 3)
	assert.Equal(t, []models.PriceLevel{lvl(11, 5)}, snaps[2].Bids)
}

func TestDuplicateAddIsJournaled(t *testing.T) {
	input := feed(t, itch.V41,
		itch.Message{Type: 'A', Stock: "X", Side: models.SideBuy, Price: 10, Shares: 5, RefNo: 1},
		itch.Message{Type: 'A', Stock: "X", Side: models.SideBuy, Price: 12, Shares: 5, RefNo: 1},
	)
	res, mem, j, err := run(t, options("X"), input)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Anomalies[journal.KindDuplicateReference])
	assert.Equal(t, 1, j.Counts()[journal.KindDuplicateReference])
	assert.Len(t, books(mem, "X"), 1)
}

func TestUnknownTypeIsSkipped(t *testing.T) {
	input := feed(t, itch.V41, itch.Message{Type: 'S', Event: itch.EventStartOfMessages})
	raw := make([]byte, 2)
	binary.BigEndian.PutUint16(raw, 3)
	input.Write(append(raw, 'Z', 0, 0))
	input.Write(feed(t, itch.V41, itch.Message{Type: 'A', Stock: "X", Side: models.SideSell, Price: 10, Shares: 5, RefNo: 1}).Bytes())

	res, mem, j, err := run(t, options("X"), input)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Anomalies[journal.KindUnknownType])
	assert.Equal(t, 1, j.Counts()[journal.KindUnknownType])
	assert.Len(t, books(mem, "X"), 1)
}

func TestUntrackedSymbolsAreFiltered(t *testing.T) {
	input := feed(t, itch.V41,
		itch.Message{Type: 'A', Stock: "X", Side: models.SideBuy, Price: 10, Shares: 5, RefNo: 1},
		itch.Message{Type: 'A', Stock: "Y", Side: models.SideBuy, Price: 10, Shares: 5, RefNo: 2},
		itch.Message{Type: 'E', RefNo: 2, Shares: 5},
		itch.Message{Type: 'P', Stock: "Y", Side: models.SideBuy, Price: 10, Shares: 5},
		itch.Message{Type: 'P', Stock: "X", Side: models.SideBuy, Price: 10, Shares: 7},
	)
	res, mem, _, err := run(t, options("X"), input)
	require.NoError(t, err)
	assert.Empty(t, mem.Records(models.StreamBooks, "Y"))
	assert.Len(t, mem.Records(models.StreamTrades, "X"), 1)
	assert.Equal(t, uint64(2), res.Skipped[itch.SkipSymbol.String()])
	assert.Equal(t, uint64(1), res.Skipped[itch.SkipReference.String()])
}

func TestCrossedBookDropsSymbol(t *testing.T) {
	input := feed(t, itch.V41,
		itch.Message{Type: 'A', Stock: "X", Side: models.SideBuy, Price: 100, Shares: 5, RefNo: 1},
		itch.Message{Type: 'A', Stock: "Y", Side: models.SideBuy, Price: 100, Shares: 5, RefNo: 2},
		itch.Message{Type: 'A', Stock: "X", Side: models.SideSell, Price: 99, Shares: 5, RefNo: 3},
		itch.Message{Type: 'A', Stock: "X", Side: models.SideSell, Price: 200, Shares: 5, RefNo: 4},
		itch.Message{Type: 'D', RefNo: 1},
		itch.Message{Type: 'D', RefNo: 2},
	)
	res, mem, j, err := run(t, options("X", "Y"), input)
	require.NoError(t, err)

	require.Contains(t, res.DroppedSymbols, "X")
	assert.NotContains(t, res.DroppedSymbols, "Y")
	assert.Equal(t, 1, j.Counts()[journal.KindSymbolDropped])
	assert.Len(t, books(mem, "X"), 1, "only the snapshot before the violation")
	assert.Len(t, books(mem, "Y"), 2)
	assert.Zero(t, res.LiveOrders)
}

func TestOverExecutionDropsSymbol(t *testing.T) {
	input := feed(t, itch.V41,
		itch.Message{Type: 'A', Stock: "X", Side: models.SideBuy, Price: 100, Shares: 5, RefNo: 1},
		itch.Message{Type: 'E', RefNo: 1, Shares: 6},
	)
	res, _, _, err := run(t, options("X"), input)
	require.NoError(t, err)
	assert.Contains(t, res.DroppedSymbols["X"], "exceeds")
}

func TestEndOfMessagesStopsReading(t *testing.T) {
	input := feed(t, itch.V41,
		itch.Message{Type: 'S', Event: itch.EventEndOfMessages},
		itch.Message{Type: 'A', Stock: "X", Side: models.SideBuy, Price: 100, Shares: 5, RefNo: 1},
	)
	res, mem, _, err := run(t, options("X"), input)
	require.NoError(t, err)
	assert.True(t, res.EndOfMessages)
	assert.Equal(t, uint64(1), res.Frames)
	assert.Empty(t, books(mem, "X"))
}

func TestFatalErrors(t *testing.T) {
	t.Run("truncated frame", func(t *testing.T) {
		input := feed(t, itch.V41, itch.Message{Type: 'A', Stock: "X", Side: models.SideBuy, Price: 1, Shares: 1, RefNo: 1})
		input.Truncate(input.Len() - 3)
		_, _, _, err := run(t, options("X"), input)
		assert.ErrorIs(t, err, itch.ErrFraming)
	})

	t.Run("wrong version", func(t *testing.T) {
		input := feed(t, itch.V40, itch.Message{Type: 'A', Stock: "X", Side: models.SideBuy, Price: 1, Shares: 1, RefNo: 1})
		_, _, _, err := run(t, options("X"), input)
		assert.ErrorIs(t, err, itch.ErrLayoutMismatch)
	})

	t.Run("sink failure", func(t *testing.T) {
		input := feed(t, itch.V41, itch.Message{Type: 'P', Stock: "X", Side: models.SideBuy, Price: 1, Shares: 1})
		opts := options("X")
		opts.Capacity = 1
		p, err := NewPipeline(opts, failingSink{}, nil, zaptest.NewLogger(t))
		require.NoError(t, err)
		_, err = p.Run(context.Background(), input)
		var se *buffer.SinkError
		assert.ErrorAs(t, err, &se)
	})
}

type failingSink struct{}

func (failingSink) WriteBatch(context.Context, sink.Batch) error { return errors.New("disk full") }
func (failingSink) Close() error                                 { return nil }

func TestCancellation(t *testing.T) {
	input := feed(t, itch.V41, itch.Message{Type: 'S', Event: itch.EventStartOfMessages})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := NewPipeline(options("X"), sink.NewMemory(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = p.Run(ctx, input)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvalidOptions(t *testing.T) {
	opts := options("X")
	opts.Levels = 0
	_, err := NewPipeline(opts, sink.NewMemory(), nil, nil)
	assert.Error(t, err)

	opts = options()
	_, err = NewPipeline(opts, sink.NewMemory(), nil, nil)
	assert.Error(t, err)
}

func TestRunFilesWithCompressedInputs(t *testing.T) {
	dir := t.TempDir()
	day := func(sym string) []byte {
		return feed(t, itch.V41,
			itch.Message{Type: 'S', Event: itch.EventStartOfMessages},
			itch.Message{Type: 'A', Stock: sym, Side: models.SideBuy, Price: 10, Shares: 5, RefNo: 1},
			itch.Message{Type: 'S', Event: itch.EventEndOfMessages},
		).Bytes()
	}

	plain := filepath.Join(dir, "S010213-v41.txt")
	require.NoError(t, os.WriteFile(plain, day("X"), 0o644))

	gzPath := filepath.Join(dir, "S010313-v41.txt.gz")
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(day("X"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(gzPath, gz.Bytes(), 0o644))

	zstPath := filepath.Join(dir, "S010413-v41.txt.zst")
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(zstPath, enc.EncodeAll(day("X"), nil), 0o644))
	require.NoError(t, enc.Close())

	var files []FileSpec
	for _, p := range []string{plain, gzPath, zstPath} {
		f, err := ParseFileSpec(p)
		require.NoError(t, err)
		files = append(files, f)
	}
	assert.Equal(t, "2013-01-03", files[1].Date)

	mem := sink.NewMemory()
	results, err := RunFiles(context.Background(), files, options("X"), 2, mem, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Result.EndOfMessages, r.File.Path)
		assert.Empty(t, r.Err)
	}

	dates := map[string]bool{}
	for _, b := range mem.Batches() {
		if b.Stream == models.StreamBooks {
			dates[b.Date] = true
		}
	}
	assert.Equal(t, map[string]bool{"2013-01-02": true, "2013-01-03": true, "2013-01-04": true}, dates)

	manifest := filepath.Join(dir, "out", "manifest.yaml")
	require.NoError(t, WriteManifest(manifest, Manifest{RunID: "r1", Version: "4.1", Symbols: []string{"X"}, Files: results}))
	m, err := ReadManifest(manifest)
	require.NoError(t, err)
	require.Len(t, m.Files, 3)
	assert.Equal(t, uint64(3), m.Files[0].Result.Frames)
}

func TestRunFilesReportsFailures(t *testing.T) {
	files := []FileSpec{{Path: filepath.Join(t.TempDir(), "missing.bin"), Date: date}}
	results, err := RunFiles(context.Background(), files, options("X"), 1, sink.NewMemory(), nil, zaptest.NewLogger(t))
	assert.Error(t, err)
	assert.NotEmpty(t, results[0].Err)
}

func TestParseFileSpec(t *testing.T) {
	f, err := ParseFileSpec("/data/feed.bin@2014-03-05")
	require.NoError(t, err)
	assert.Equal(t, FileSpec{Path: "/data/feed.bin", Date: "2014-03-05"}, f)

	_, err = ParseFileSpec("/data/feed.bin")
	assert.Error(t, err)
}
