// Command kvs-server runs the key-value store over TCP.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/launix-de/kvs/internal/admission"
	"github.com/launix-de/kvs/internal/config"
	"github.com/launix-de/kvs/internal/engine"
	"github.com/launix-de/kvs/internal/engine/embedded"
	"github.com/launix-de/kvs/internal/engine/logengine"
	"github.com/launix-de/kvs/internal/logging"
	"github.com/launix-de/kvs/internal/metrics"
	"github.com/launix-de/kvs/internal/notify"
	"github.com/launix-de/kvs/internal/pool"
	"github.com/launix-de/kvs/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	bootLogger := logging.New(logging.Options{Level: "info", Format: "json"})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("kvs-server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (HOST:PORT)")
	fs.StringVar(&cfg.Engine, "engine", cfg.Engine, "storage engine: log or embedded")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	m := metrics.New()

	var notifier *notify.Publisher
	if cfg.NotifyURL != "" {
		notifier, err = notify.Connect(cfg.NotifyURL, cfg.NotifySubject, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to connect notification broker, continuing without it")
			notifier = nil
		} else {
			defer notifier.Close()
		}
	}

	eng, err := openEngine(cfg, logger, m, notifier)
	if err != nil {
		return err
	}

	guard := admission.New(admission.Limits{
		MaxConnections:     cfg.MaxConnections,
		MaxGoroutines:      cfg.MaxGoroutines,
		MaxRequestsPerSec:  cfg.MaxRequestsPerSec,
		CPURejectThreshold: cfg.CPURejectThreshold,
		CPUPauseThreshold:  cfg.CPUPauseThreshold,
	}, logger)
	go sampleResourcesForever(guard, eng, m, cfg.MonitorInterval)

	workers := pool.NewDispatcherPool(cfg.PoolWorkers, logger)
	defer workers.Shutdown()

	go serveMetrics(cfg.MetricsAddr, m, logger)

	srv := server.New(cfg.Addr, eng, workers, guard, m, cfg.MaxValueBytes, logger)
	return srv.Run()
}

// openEngine selects the configured storage backend and refuses to start if
// the data directory was previously used with a different engine: mixing
// the two on the same directory would silently produce an empty store.
func openEngine(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics, notifier *notify.Publisher) (engine.Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	if err := checkEngineMarker(cfg.DataDir, cfg.Engine); err != nil {
		return nil, err
	}

	switch cfg.Engine {
	case "embedded":
		return embedded.Open(filepath.Join(cfg.DataDir, "kvs.db"))
	default:
		opts := []logengine.Option{
			logengine.WithFsync(cfg.Fsync),
			logengine.WithCompactionThreshold(cfg.CompactionBytes),
			logengine.WithLogger(logger),
			logengine.WithMetrics(m),
		}
		if notifier != nil {
			opts = append(opts, logengine.WithNotifier(notifier))
		}
		return logengine.Open(cfg.DataDir, opts...)
	}
}

const engineMarkerFile = ".engine"

func checkEngineMarker(dataDir, wantEngine string) error {
	markerPath := filepath.Join(dataDir, engineMarkerFile)
	existing, err := os.ReadFile(markerPath)
	if os.IsNotExist(err) {
		return os.WriteFile(markerPath, []byte(wantEngine), 0o644)
	}
	if err != nil {
		return err
	}
	if string(existing) != wantEngine {
		return fmt.Errorf("data directory %q was created with engine %q, refusing to open with engine %q", dataDir, existing, wantEngine)
	}
	return nil
}

// keyCounter is satisfied by engines that can report their live key count;
// the embedded boltdb engine has no equally cheap equivalent, so it is
// consulted on a best-effort basis rather than being part of engine.Engine.
type keyCounter interface {
	Len() int
}

func sampleResourcesForever(guard *admission.Guard, eng engine.Engine, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		pct := guard.SampleCPU()
		m.SetCPUUsage(pct)
		m.SetGoroutines(runtime.NumGoroutine())
		if counter, ok := eng.(keyCounter); ok {
			m.SetKeysLive(counter.Len())
		}
	}
}

func serveMetrics(addr string, m *metrics.Metrics, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}
