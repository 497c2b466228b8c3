package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Aidin1998/itchbook/internal/config"
	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/internal/sink/badgersink"
	"github.com/Aidin1998/itchbook/internal/sink/csvsink"
	"github.com/Aidin1998/itchbook/internal/sink/jsonlsink"
	"github.com/Aidin1998/itchbook/internal/sink/kafkasink"
	"github.com/Aidin1998/itchbook/internal/sink/pgsink"
	"github.com/Aidin1998/itchbook/internal/sink/redissink"
	"github.com/Aidin1998/itchbook/internal/sink/sqlsink"
)

// openSinks opens every configured sink. On error the ones already opened are closed.
func openSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) (sink.Multi, error) {
	var out sink.Multi
	fail := func(name string, err error) (sink.Multi, error) {
		if cerr := out.Close(); cerr != nil {
			logger.Warn("Failed to close sinks", zap.Error(cerr))
		}
		return nil, fmt.Errorf("open %s sink: %w", name, err)
	}
	sc := cfg.Sinks

	if sc.CSVDir != "" {
		s, err := csvsink.New(sc.CSVDir, cfg.Levels, logger.Named("csv"))
		if err != nil {
			return fail("csv", err)
		}
		out = append(out, s)
	}
	if sc.BadgerPath != "" {
		s, err := badgersink.Open(sc.BadgerPath, logger.Named("badger"))
		if err != nil {
			return fail("badger", err)
		}
		out = append(out, s)
	}
	if sc.JSONLPath != "" {
		s, err := jsonlsink.Open(sc.JSONLPath)
		if err != nil {
			return fail("jsonl", err)
		}
		out = append(out, s)
	}
	if sc.SQLDriver != "" {
		s, err := sqlsink.Open(sc.SQLDriver, sc.SQLDSN, logger.Named("sql"))
		if err != nil {
			return fail("sql", err)
		}
		out = append(out, s)
	}
	if sc.PostgresDSN != "" {
		s, err := pgsink.Connect(ctx, sc.PostgresDSN, cfg.Levels, logger.Named("postgres"))
		if err != nil {
			return fail("postgres", err)
		}
		out = append(out, s)
	}
	if len(sc.Kafka) > 0 {
		kc := kafkasink.DefaultConfig()
		kc.Brokers = sc.Kafka
		if sc.KafkaTopic != "" {
			kc.TopicPrefix = sc.KafkaTopic
		}
		s, err := kafkasink.New(kc, logger.Named("kafka"))
		if err != nil {
			return fail("kafka", err)
		}
		out = append(out, s)
	}
	if len(sc.Redis) > 0 {
		s, err := redissink.New(ctx, redissink.Options{Addrs: sc.Redis, Prefix: "itch", MaxLen: sc.RedisMaxLen}, logger.Named("redis"))
		if err != nil {
			return fail("redis", err)
		}
		out = append(out, s)
	}
	return out, nil
}
