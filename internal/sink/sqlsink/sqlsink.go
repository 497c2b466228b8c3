// Package sqlsink stores records in a relational database through gorm.
// Book snapshots are written as one book_snapshots row each, with their
// populated levels in long format in book_levels under the same key.
package sqlsink

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/models"
)

const insertBatchSize = 500

type MessageRow struct {
	ID        uint   `gorm:"primaryKey"`
	Date      string `gorm:"size:10;index:idx_messages_key,priority:1"`
	Symbol    string `gorm:"size:8;index:idx_messages_key,priority:2"`
	Seq       int64  `gorm:"index:idx_messages_key,priority:3"`
	Sec       int64
	Nano      int64
	Type      string `gorm:"size:1"`
	Side      string `gorm:"size:1"`
	Price     int64
	Shares    int64
	RefNo     int64
	NewRefNo  int64
	OldPrice  int64
	OldShares int64
	MatchNo   int64
	ExecPrice int64
	MPID      string `gorm:"size:4"`
}

func (MessageRow) TableName() string { return "messages" }

// BookSnapshotRow is written for every snapshot, including an empty book.
type BookSnapshotRow struct {
	ID     uint   `gorm:"primaryKey"`
	Date   string `gorm:"size:10;index:idx_book_snapshots_key,priority:1"`
	Symbol string `gorm:"size:8;index:idx_book_snapshots_key,priority:2"`
	Seq    int64  `gorm:"index:idx_book_snapshots_key,priority:3"`
	Sec    int64
	Nano   int64
	Depth  int
	Bids   int
	Asks   int
}

func (BookSnapshotRow) TableName() string { return "book_snapshots" }

// BookLevelRow is one populated level of the snapshot with the same date, symbol and seq.
type BookLevelRow struct {
	ID     uint   `gorm:"primaryKey"`
	Date   string `gorm:"size:10;index:idx_book_levels_key,priority:1"`
	Symbol string `gorm:"size:8;index:idx_book_levels_key,priority:2"`
	Seq    int64  `gorm:"index:idx_book_levels_key,priority:3"`
	Sec    int64
	Nano   int64
	Side   string `gorm:"size:1"`
	Level  int
	Price  int64
	Shares int64
}

func (BookLevelRow) TableName() string { return "book_levels" }

type TradeRow struct {
	ID      uint   `gorm:"primaryKey"`
	Date    string `gorm:"size:10;index:idx_trades_key,priority:1"`
	Symbol  string `gorm:"size:8;index:idx_trades_key,priority:2"`
	Sec     int64
	Nano    int64
	Side    string `gorm:"size:1"`
	Price   int64
	Shares  int64
	MatchNo int64
}

func (TradeRow) TableName() string { return "trades" }

type SystemRow struct {
	ID     uint   `gorm:"primaryKey"`
	Date   string `gorm:"size:10;index"`
	Symbol string `gorm:"size:8"`
	Sec    int64
	Nano   int64
	Type   string `gorm:"size:1"`
	Event  string `gorm:"size:1"`
	Reason string `gorm:"size:4"`
}

func (SystemRow) TableName() string { return "system_events" }

type ImbalanceRow struct {
	ID        uint   `gorm:"primaryKey"`
	Date      string `gorm:"size:10;index:idx_imbalances_key,priority:1"`
	Symbol    string `gorm:"size:8;index:idx_imbalances_key,priority:2"`
	Sec       int64
	Nano      int64
	Type      string `gorm:"size:1"`
	Cross     string `gorm:"size:1"`
	Price     int64
	Shares    int64
	MatchNo   int64
	Paired    int64
	Imbalance int64
	Direction string `gorm:"size:1"`
	Far       int64
	Near      int64
	Current   int64
	Variation string `gorm:"size:1"`
}

func (ImbalanceRow) TableName() string { return "imbalances" }

// Sink writes batches inside one transaction each.
type Sink struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects with driver "postgres" or "sqlite" and migrates the schema.
func Open(driver, dsn string, logger *zap.Logger) (*Sink, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlsink: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlsink: connect: %w", err)
	}
	return New(db, logger)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB, logger *zap.Logger) (*Sink, error) {
	if err := db.AutoMigrate(&MessageRow{}, &BookSnapshotRow{}, &BookLevelRow{}, &TradeRow{}, &SystemRow{}, &ImbalanceRow{}); err != nil {
		return nil, fmt.Errorf("sqlsink: migrate: %w", err)
	}
	return &Sink{db: db, logger: logger}, nil
}

// DB exposes the connection for queries.
func (s *Sink) DB() *gorm.DB { return s.db }

func char(b byte) string {
	if b == 0 {
		return ""
	}
	return string(b)
}

func side(sd models.Side) string { return char(byte(sd)) }

// Rows converts a batch to its table rows. The returned value is a slice of one row type.
// For books it holds the snapshot headers; Levels returns their levels.
func Rows(b sink.Batch) (any, int) {
	switch b.Stream {
	case models.StreamMessages:
		rows := make([]MessageRow, 0, len(b.Records))
		for _, r := range b.Records {
			m, ok := r.(models.MessageRecord)
			if !ok {
				continue
			}
			rows = append(rows, MessageRow{
				Date: b.Date, Symbol: b.Symbol, Seq: int64(m.Seq), Sec: int64(m.Sec), Nano: int64(m.Nano),
				Type: char(m.Type), Side: side(m.Side), Price: int64(m.Price), Shares: m.Shares,
				RefNo: int64(m.RefNo), NewRefNo: int64(m.NewRefNo), OldPrice: int64(m.OldPrice), OldShares: int64(m.OldShares),
				MatchNo: int64(m.MatchNo),
				ExecPrice: int64(m.ExecPrice), MPID: m.MPID,
			})
		}
		return rows, len(rows)
	case models.StreamBooks:
		rows := make([]BookSnapshotRow, 0, len(b.Records))
		for _, r := range b.Records {
			snap, ok := r.(models.BookSnapshot)
			if !ok {
				continue
			}
			rows = append(rows, BookSnapshotRow{
				Date: b.Date, Symbol: b.Symbol, Seq: int64(snap.Seq), Sec: int64(snap.Sec), Nano: int64(snap.Nano),
				Depth: snap.Depth, Bids: len(snap.Bids), Asks: len(snap.Asks),
			})
		}
		return rows, len(rows)
	case models.StreamTrades:
		rows := make([]TradeRow, 0, len(b.Records))
		for _, r := range b.Records {
			t, ok := r.(models.TradeRecord)
			if !ok {
				continue
			}
			rows = append(rows, TradeRow{
				Date: b.Date, Symbol: b.Symbol, Sec: int64(t.Sec), Nano: int64(t.Nano),
				Side: side(t.Side), Price: int64(t.Price), Shares: int64(t.Shares), MatchNo: int64(t.MatchNo),
			})
		}
		return rows, len(rows)
	case models.StreamSystem:
		rows := make([]SystemRow, 0, len(b.Records))
		for _, r := range b.Records {
			e, ok := r.(models.SystemRecord)
			if !ok {
				continue
			}
			rows = append(rows, SystemRow{
				Date: b.Date, Symbol: b.Symbol, Sec: int64(e.Sec), Nano: int64(e.Nano),
				Type: char(e.Type), Event: char(e.Event), Reason: e.Reason,
			})
		}
		return rows, len(rows)
	case models.StreamImbalance:
		rows := make([]ImbalanceRow, 0, len(b.Records))
		for _, r := range b.Records {
			i, ok := r.(models.ImbalanceRecord)
			if !ok {
				continue
			}
			rows = append(rows, ImbalanceRow{
				Date: b.Date, Symbol: b.Symbol, Sec: int64(i.Sec), Nano: int64(i.Nano),
				Type: char(i.Type), Cross: char(i.Cross), Price: int64(i.Price), Shares: int64(i.Shares),
				MatchNo: int64(i.MatchNo), Paired: int64(i.Paired), Imbalance: int64(i.Imbalance),
				Direction: side(i.Direction), Far: int64(i.Far), Near: int64(i.Near), Current: int64(i.Current),
				Variation: char(i.Variation),
			})
		}
		return rows, len(rows)
	}
	return nil, 0
}

// Levels returns one row per populated level of the batch's book snapshots.
func Levels(b sink.Batch) []BookLevelRow {
	if b.Stream != models.StreamBooks {
		return nil
	}
	var rows []BookLevelRow
	for _, r := range b.Records {
		snap, ok := r.(models.BookSnapshot)
		if !ok {
			continue
		}
		level := func(sd models.Side, levels []models.PriceLevel) {
			for i, l := range levels {
				rows = append(rows, BookLevelRow{
					Date: b.Date, Symbol: b.Symbol, Seq: int64(snap.Seq), Sec: int64(snap.Sec), Nano: int64(snap.Nano),
					Side: side(sd), Level: i + 1, Price: int64(l.Price), Shares: int64(l.Shares),
				})
			}
		}
		level(models.SideBuy, snap.Bids)
		level(models.SideSell, snap.Asks)
	}
	return rows
}

func (s *Sink) WriteBatch(ctx context.Context, b sink.Batch) error {
	rows, n := Rows(b)
	if n == 0 {
		return nil
	}
	levels := Levels(b)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return err
		}
		if len(levels) == 0 {
			return nil
		}
		return tx.CreateInBatches(levels, insertBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("sqlsink: insert %d %s rows for %s/%s: %w", n, b.Stream, b.Date, b.Symbol, err)
	}
	return nil
}

func (s *Sink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
