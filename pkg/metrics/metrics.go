package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FramesRead counts decoded frames by message type tag
var FramesRead = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "itchbook_frames_read_total",
		Help: "Total number of frames read from the feed, by message type",
	},
	[]string{"tag"},
)

// FramesSkipped counts frames rejected before decoding (symbol, reference, unknown)
var FramesSkipped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "itchbook_frames_skipped_total",
		Help: "Total number of frames skipped without producing records",
	},
	[]string{"reason"},
)

// Anomalies counts tolerated data problems by kind
var Anomalies = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "itchbook_anomalies_total",
		Help: "Tolerated feed anomalies (duplicate or unknown references, unknown types)",
	},
	[]string{"kind"},
)

// DroppedSymbols counts symbols abandoned after a book integrity failure
var DroppedSymbols = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "itchbook_dropped_symbols_total",
		Help: "Total number of symbols dropped after an integrity failure",
	},
)

// Buffer and sink metrics
var (
	Flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itchbook_flushes_total",
			Help: "Number of buffer flushes by stream",
		},
		[]string{"stream"},
	)

	FlushedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itchbook_flushed_records_total",
			Help: "Number of records handed to the sink by stream",
		},
		[]string{"stream"},
	)

	FlushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "itchbook_flush_duration_seconds",
			Help:    "Time spent writing one flush to the sink",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream"},
	)

	ResidentRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "itchbook_resident_records",
			Help: "Records currently held in memory awaiting flush",
		},
		[]string{"stream"},
	)

	SinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itchbook_sink_errors_total",
			Help: "Sink write failures by stream",
		},
		[]string{"stream"},
	)
)

// FilesProcessed counts finished input files by outcome
var FilesProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "itchbook_files_processed_total",
		Help: "Input files processed, by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(FramesRead, FramesSkipped, Anomalies, DroppedSymbols)
	prometheus.MustRegister(Flushes, FlushedRecords, FlushLatency, ResidentRecords, SinkErrors)
	prometheus.MustRegister(FilesProcessed)
}
