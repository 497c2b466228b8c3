package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Aidin1998/itchbook/internal/config"
	"github.com/Aidin1998/itchbook/internal/journal"
	"github.com/Aidin1998/itchbook/internal/replay"
	"github.com/Aidin1998/itchbook/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to read .env: %v", err)
	}

	fs := pflag.NewFlagSet("itchreplay", pflag.ExitOnError)
	config.Flags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zapLogger); err != nil {
		zapLogger.Fatal("Replay failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) error {
	version, err := cfg.ProtocolVersion()
	if err != nil {
		return err
	}
	files := make([]replay.FileSpec, 0, len(cfg.Files))
	for _, f := range cfg.Files {
		spec, err := replay.ParseFileSpec(f)
		if err != nil {
			return err
		}
		files = append(files, spec)
	}

	if cfg.Metrics != "" {
		srv := &http.Server{Addr: cfg.Metrics, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zapLogger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
		zapLogger.Info("Serving metrics", zap.String("addr", cfg.Metrics))
	}

	j := journal.New(nil, zapLogger)
	if cfg.Journal != "" {
		if j, err = journal.Open(cfg.Journal, zapLogger); err != nil {
			return err
		}
	}
	defer j.Close()

	sinks, err := openSinks(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}

	manifest := replay.Manifest{
		RunID:    j.RunID().String(),
		Started:  time.Now().UTC(),
		Version:  version.String(),
		Symbols:  cfg.Symbols,
		Levels:   cfg.Levels,
		Capacity: cfg.Capacity,
		Sinks:    cfg.Sinks.Enabled(),
	}
	zapLogger.Info("Starting replay",
		zap.String("run_id", manifest.RunID),
		zap.Int("files", len(files)),
		zap.Strings("sinks", manifest.Sinks))
	recordRun(j, journal.Entry{Kind: journal.KindRunStarted, Detail: fmt.Sprintf("%d files", len(files))}, zapLogger)

	base := replay.Options{
		Version:  version,
		Symbols:  cfg.Symbols,
		Levels:   cfg.Levels,
		Capacity: cfg.Capacity,
	}
	results, runErr := replay.RunFiles(ctx, files, base, cfg.Workers, sinks, j, zapLogger)
	if err := sinks.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close sinks: %w", err)
	}

	manifest.Finished = time.Now().UTC()
	manifest.Files = results
	detail := "ok"
	if runErr != nil {
		detail = runErr.Error()
	}
	recordRun(j, journal.Entry{Kind: journal.KindRunFinished, Detail: detail}, zapLogger)

	if cfg.Manifest != "" {
		if err := replay.WriteManifest(cfg.Manifest, manifest); err != nil {
			zapLogger.Error("Failed to write manifest", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}
	zapLogger.Info("Replay complete",
		zap.Duration("elapsed", manifest.Finished.Sub(manifest.Started)),
		zap.Any("anomalies", j.Counts()))
	return nil
}

// recordRun journals a run boundary. A journal failure does not fail the run.
func recordRun(j *journal.Journal, e journal.Entry, zapLogger *zap.Logger) {
	if err := j.Record(e); err != nil {
		zapLogger.Warn("Failed to write journal entry", zap.String("kind", e.Kind), zap.Error(err))
	}
}
