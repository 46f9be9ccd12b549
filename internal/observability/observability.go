package observability

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogmulti "github.com/samber/slog-multi"
)

var (
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_messages_total",
		Help: "Queue messages handled by worker endpoints.",
	}, []string{"worker", "outcome"}) // outcome: processed, duplicate, rejected, failed

	JobsTransitioned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_total",
		Help: "Job state transitions.",
	}, []string{"status"})

	CreatorsDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_creators_discovered_total",
		Help: "Net-new creators persisted after dedup.",
	})

	WorkerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_worker_duration_seconds",
		Help:    "Duration of a worker invocation.",
		Buckets: prometheus.LinearBuckets(0.1, 0.2, 10),
	}, []string{"worker"})
)

// NewLogger creates a structured logger: text to stderr, plus JSON to a file
// when logFile is set. Returns a cleanup func to close the file.
func NewLogger(logFile, level string) (*slog.Logger, func() error) {
	lvl := parseLevel(level)

	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})

	if logFile == "" {
		return slog.New(stderrHandler), func() error { return nil }
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		return slog.New(stderrHandler), func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
	return logger, func() error { return file.Close() }
}

// NewLoggerWithWriters creates a logger with custom writers (for testing).
func NewLoggerWithWriters(stderr, file io.Writer, level string) *slog.Logger {
	lvl := parseLevel(level)
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl}),
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: lvl}),
	))
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
