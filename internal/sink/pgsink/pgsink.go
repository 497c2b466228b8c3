// Package pgsink bulk-loads records into PostgreSQL with COPY. Book
// snapshots use the wide layout, one row per snapshot with per-level
// columns bid_prc_1..N, ask_prc_1..N, bid_vol_1..N, ask_vol_1..N.
package pgsink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/models"
)

// Conn is the subset of *pgxpool.Pool the sink needs.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

type Sink struct {
	conn   Conn
	pool   *pgxpool.Pool
	depth  int
	logger *zap.Logger
}

// Connect opens a pool on dsn and creates the tables if they do not exist.
func Connect(ctx context.Context, dsn string, depth int, logger *zap.Logger) (*Sink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgsink: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgsink: connect: %w", err)
	}
	s := New(pool, depth, logger)
	s.pool = pool
	if err := s.CreateTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection.
func New(conn Conn, depth int, logger *zap.Logger) *Sink {
	return &Sink{conn: conn, depth: depth, logger: logger}
}

// Table returns the table that holds stream.
func Table(stream models.Stream) string {
	if stream == models.StreamBooks {
		return "orderbooks"
	}
	if stream == models.StreamSystem {
		return "system_events"
	}
	if stream == models.StreamImbalance {
		return "imbalances"
	}
	return stream.String()
}

// Columns returns the COPY column list of stream.
func Columns(stream models.Stream, depth int) []string {
	switch stream {
	case models.StreamMessages:
		return []string{"date", "name", "seq", "sec", "nano", "type", "side", "price", "shares", "refno", "newrefno", "old_price", "old_shares", "matchno", "mpid"}
	case models.StreamBooks:
		cols := []string{"date", "name", "seq", "sec", "nano"}
		for _, prefix := range []string{"bid_prc_", "ask_prc_", "bid_vol_", "ask_vol_"} {
			for i := 1; i <= depth; i++ {
				cols = append(cols, prefix+strconv.Itoa(i))
			}
		}
		return cols
	case models.StreamTrades:
		return []string{"date", "name", "sec", "nano", "side", "price", "shares", "matchno"}
	case models.StreamSystem:
		return []string{"date", "name", "sec", "nano", "type", "event", "reason"}
	case models.StreamImbalance:
		return []string{"date", "name", "sec", "nano", "type", "cross_type", "price", "shares", "matchno",
			"paired", "imbalance", "direction", "far", "near", "current"}
	}
	return nil
}

// DDL returns the CREATE TABLE statement of stream.
func DDL(stream models.Stream, depth int) string {
	cols := Columns(stream, depth)
	defs := make([]string, len(cols))
	for i, c := range cols {
		typ := "BIGINT"
		switch c {
		case "date":
			typ = "DATE"
		case "name", "mpid", "reason":
			typ = "VARCHAR(8)"
		case "type", "side", "event", "cross_type", "direction":
			typ = "CHAR(1)"
		}
		defs[i] = c + " " + typ
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", Table(stream), strings.Join(defs, ", "))
}

// CreateTables creates every stream table.
func (s *Sink) CreateTables(ctx context.Context) error {
	for _, st := range models.Streams {
		if _, err := s.conn.Exec(ctx, DDL(st, s.depth)); err != nil {
			return fmt.Errorf("pgsink: create %s: %w", Table(st), err)
		}
	}
	return nil
}

func char(b byte) string {
	if b == 0 {
		return " "
	}
	return string(b)
}

// Values converts one record into a COPY row matching Columns.
func Values(rec models.Record, day time.Time, depth int) []any {
	h := rec.Meta()
	head := []any{day, h.Symbol}
	switch r := rec.(type) {
	case models.MessageRecord:
		return append(head, int64(r.Seq), int64(r.Sec), int64(r.Nano), char(r.Type), char(byte(r.Side)),
			int64(r.Price), r.Shares, int64(r.RefNo), int64(r.NewRefNo), int64(r.OldPrice), int64(r.OldShares), int64(r.MatchNo), r.MPID)
	case models.BookSnapshot:
		arr := r.Array()
		// the array is seq, sec, nano then the per-level block
		row := append(head, arr[0], arr[1], arr[2])
		n := r.Depth
		for i := 0; i < 4*depth; i++ {
			block, level := i/depth, i%depth
			var v any
			if level < n {
				v = arr[3+block*n+level]
			}
			row = append(row, v)
		}
		return row
	case models.TradeRecord:
		return append(head, int64(r.Sec), int64(r.Nano), char(byte(r.Side)), int64(r.Price), int64(r.Shares), int64(r.MatchNo))
	case models.SystemRecord:
		return append(head, int64(r.Sec), int64(r.Nano), char(r.Type), char(r.Event), r.Reason)
	case models.ImbalanceRecord:
		return append(head, int64(r.Sec), int64(r.Nano), char(r.Type), char(r.Cross), int64(r.Price), int64(r.Shares),
			int64(r.MatchNo), int64(r.Paired), int64(r.Imbalance), char(byte(r.Direction)), int64(r.Far), int64(r.Near), int64(r.Current))
	}
	return nil
}

func (s *Sink) WriteBatch(ctx context.Context, b sink.Batch) error {
	if len(b.Records) == 0 {
		return nil
	}
	day, err := time.Parse(time.DateOnly, b.Date)
	if err != nil {
		return fmt.Errorf("pgsink: session date %q: %w", b.Date, err)
	}
	rows := make([][]any, len(b.Records))
	for i, r := range b.Records {
		rows[i] = Values(r, day, s.depth)
	}
	n, err := s.conn.CopyFrom(ctx, pgx.Identifier{Table(b.Stream)}, Columns(b.Stream, s.depth), pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("pgsink: copy %s/%s/%s: %w", b.Stream, b.Date, b.Symbol, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("pgsink: copy %s/%s/%s: wrote %d of %d rows", b.Stream, b.Date, b.Symbol, n, len(rows))
	}
	return nil
}

func (s *Sink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
