package replay

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/itchbook/internal/journal"
	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/metrics"
)

// FileResult pairs an input file with the outcome of its replay.
type FileResult struct {
	File   FileSpec `yaml:"file"`
	Result Result   `yaml:"result"`
	Err    string   `yaml:"error,omitempty"`
}

// RunFiles replays independent session files concurrently, at most workers
// at a time, into the shared sink. base supplies everything but the date.
// The first fatal error cancels the remaining files.
func RunFiles(ctx context.Context, files []FileSpec, base Options, workers int, s sink.Sink, j *journal.Journal, logger *zap.Logger) ([]FileResult, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]FileResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range files {
		g.Go(func() error {
			res, err := runFile(ctx, f, base, s, j, logger)
			results[i] = FileResult{File: f, Result: res}
			if err != nil {
				results[i].Err = err.Error()
				metrics.FilesProcessed.WithLabelValues("failed").Inc()
				return fmt.Errorf("%s: %w", f.Path, err)
			}
			metrics.FilesProcessed.WithLabelValues("ok").Inc()
			return nil
		})
	}
	return results, g.Wait()
}

func runFile(ctx context.Context, f FileSpec, base Options, s sink.Sink, j *journal.Journal, logger *zap.Logger) (Result, error) {
	opts := base
	opts.Date = f.Date
	p, err := NewPipeline(opts, s, j, logger.With(zap.String("file", f.Path)))
	if err != nil {
		return Result{Date: f.Date}, err
	}
	src, err := OpenSource(f.Path)
	if err != nil {
		return Result{Date: f.Date}, err
	}
	defer src.Close()
	return p.Run(ctx, src)
}
