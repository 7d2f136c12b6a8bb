package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ahmed74ca/Multithreaded-server/internal/logger"
	"github.com/ahmed74ca/Multithreaded-server/pkg/adapter/tcp"
	"github.com/ahmed74ca/Multithreaded-server/pkg/config"
	"github.com/ahmed74ca/Multithreaded-server/pkg/server"
)

// request is the JSON payload carried inside each frame.
type request struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data,omitempty"`
}

type response struct {
	Op    string          `json:"op"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// messageHandler answers ping with pong and echoes everything else back.
// Malformed JSON is a handler failure and faults the session.
func messageHandler(ctx context.Context, payload []byte) ([]byte, error) {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}

	var resp response
	switch req.Op {
	case "ping":
		resp = response{Op: "pong"}
	case "echo", "":
		resp = response{Op: "echo", Data: req.Data}
	default:
		resp = response{Op: req.Op, Error: fmt.Sprintf("unknown op %q", req.Op)}
	}

	return json.Marshal(resp)
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Override log level (DEBUG, INFO, WARN, ERROR)")
	port := flag.Int("port", 0, "Override TCP listen port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// CLI flags take precedence over file and environment
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *port != 0 {
		cfg.Adapters.TCP.Port = *port
	}

	logger.SetLevel(cfg.Logging.Level)

	fmt.Println("msgserver - framed TCP message server")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	metricsResult := config.InitializeMetrics(cfg)

	journalStore, err := config.NewJournalStore(cfg)
	if err != nil {
		log.Fatalf("Failed to create journal store: %v", err)
	}
	defer func() {
		if err := journalStore.Close(); err != nil {
			logger.Warn("Journal close error: %v", err)
		}
	}()
	logger.Info("Session journal: %s", cfg.Journal.Type)

	adapter := tcp.New(cfg.Adapters.TCP, messageHandler, metricsResult.TCPMetrics, journalStore)

	srv := server.New()
	if err := srv.AddAdapter(adapter); err != nil {
		log.Fatalf("Failed to register TCP adapter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsResult.Server != nil {
		// Start blocks until ctx is cancelled; metrics failures are not
		// fatal to the message server.
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		logger.Info("Metrics available on port %d", metricsResult.Server.Port())
	}

	logger.Info("Server configuration:")
	logger.Info("  Port: %d", adapter.Port())
	if cfg.Adapters.TCP.MaxConnections > 0 {
		logger.Info("  Max connections: %d", cfg.Adapters.TCP.MaxConnections)
	} else {
		logger.Info("  Max connections: unlimited")
	}
	logger.Info("  Read timeout: %v", cfg.Adapters.TCP.ReadTimeout)
	logger.Info("  Write timeout: %v", cfg.Adapters.TCP.WriteTimeout)
	logger.Info("  Idle timeout: %v", cfg.Adapters.TCP.IdleTimeout)
	logger.Info("  Shutdown timeout: %v", cfg.Server.ShutdownTimeout)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	result, err := srv.Run(ctx, cfg.Server.ShutdownTimeout)
	if err != nil {
		logger.Error("Server error: %v", err)
		os.Exit(1)
	}

	switch result {
	case server.ShutdownClean:
		logger.Info("Server stopped gracefully")
	case server.ShutdownForced:
		logger.Warn("Server stopped after forced session close")
		os.Exit(2)
	}
}
