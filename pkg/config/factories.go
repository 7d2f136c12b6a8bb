package config

import (
	"fmt"

	"github.com/ahmed74ca/Multithreaded-server/pkg/metrics"
	"github.com/ahmed74ca/Multithreaded-server/pkg/store/journal"
	badgerjournal "github.com/ahmed74ca/Multithreaded-server/pkg/store/journal/badger"
	memoryjournal "github.com/ahmed74ca/Multithreaded-server/pkg/store/journal/memory"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// TCPMetrics is the collector for the TCP adapter (never nil, noop if disabled)
	TCPMetrics metrics.TCPMetrics
}

// InitializeMetrics creates all metrics components based on configuration.
//
// If metrics are enabled:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed collectors
//
// If metrics are disabled:
//   - Returns nil server and no-op collectors (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Server:     nil,
			TCPMetrics: metrics.NewTCPMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:     server,
		TCPMetrics: metrics.NewTCPMetrics(),
	}
}

// NewJournalStore creates the session journal store selected by the
// configuration.
//
// The caller owns the returned store and must Close() it on shutdown.
func NewJournalStore(cfg *Config) (journal.Store, error) {
	switch cfg.Journal.Type {
	case "memory":
		return memoryjournal.New(cfg.Journal.Memory.MaxEntries), nil
	case "badger":
		store, err := badgerjournal.New(cfg.Journal.Badger.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger journal at %s: %w", cfg.Journal.Badger.Path, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Journal.Type)
	}
}
