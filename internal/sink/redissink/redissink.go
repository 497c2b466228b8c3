// Package redissink appends records to Redis Streams, one stream key per
// (stream, date, symbol). Each batch is sent as a single pipeline.
package redissink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/models"
)

type Sink struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
	logger *zap.Logger
}

// Options configures the sink. MaxLen > 0 caps every stream key approximately.
type Options struct {
	Addrs    []string
	Password string
	DB       int
	Prefix   string
	MaxLen   int64
}

// New connects and pings the server.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Sink, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    opts.Addrs,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redissink: ping %s: %w", strings.Join(opts.Addrs, ","), err)
	}
	return NewWithClient(client, opts.Prefix, opts.MaxLen, logger), nil
}

func NewWithClient(client redis.UniversalClient, prefix string, maxLen int64, logger *zap.Logger) *Sink {
	if prefix == "" {
		prefix = "itch"
	}
	return &Sink{client: client, prefix: prefix, maxLen: maxLen, logger: logger}
}

// Key is the Redis stream key of one batch. Market-wide records use "-" as symbol.
func (s *Sink) Key(stream models.Stream, date, symbol string) string {
	if symbol == "" {
		symbol = "-"
	}
	return s.prefix + ":" + stream.String() + ":" + date + ":" + symbol
}

// Args builds one XADD per record of b.
func (s *Sink) Args(b sink.Batch) ([]*redis.XAddArgs, error) {
	key := s.Key(b.Stream, b.Date, b.Symbol)
	out := make([]*redis.XAddArgs, 0, len(b.Records))
	for _, r := range b.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		h := r.Meta()
		args := &redis.XAddArgs{
			Stream: key,
			ID:     "*",
			Values: map[string]any{
				"sec":  h.Sec,
				"nano": h.Nano,
				"data": data,
			},
		}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}
		out = append(out, args)
	}
	return out, nil
}

func (s *Sink) WriteBatch(ctx context.Context, b sink.Batch) error {
	args, err := s.Args(b)
	if err != nil {
		return fmt.Errorf("redissink: encode %s: %w", b.Stream, err)
	}
	if len(args) == 0 {
		return nil
	}
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, a := range args {
			pipe.XAdd(ctx, a)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redissink: xadd %d entries to %s: %w", len(args), args[0].Stream, err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}
