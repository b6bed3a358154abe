package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kacperjurak/goimpfit/internal/processing"
	"github.com/kacperjurak/goimpfit/pkg/config"
	"github.com/kacperjurak/goimpfit/pkg/handlers"
	"github.com/kacperjurak/goimpfit/pkg/metrics"
	"github.com/kacperjurak/goimpfit/pkg/models"
	"github.com/kacperjurak/goimpfit/pkg/webhook"
	"github.com/kacperjurak/goimpfit/pkg/worker"
)

// Server represents the HTTP server with all dependencies
type Server struct {
	config        *config.Config
	serverConfig  *config.ServerConfig
	processor     *processing.EISProcessor
	workerPool    *worker.Pool
	webhookClient *webhook.Client
	metrics       *metrics.Metrics
	httpServer    *http.Server
	logger        *slog.Logger
	batchOpts     []handlers.BatchOption
}

// Options holds configuration for creating a new server
type Options struct {
	Config *config.Config
	Logger *slog.Logger
	// BatchOptions are passed to the batch handler.
	BatchOptions []handlers.BatchOption
}

// New creates a new server instance
func New(opts Options) *Server {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	serverConfig := &opts.Config.Server

	var m *metrics.Metrics
	if serverConfig.EnableMetrics {
		m = metrics.New()
	}

	processor := processing.NewEISProcessor(opts.Logger, m)

	webhookClient := webhook.NewClient(webhook.Options{
		URL:    serverConfig.WebhookURL,
		Gzip:   serverConfig.WebhookGzip,
		Logger: opts.Logger,
	})

	s := &Server{
		config:        opts.Config,
		serverConfig:  serverConfig,
		processor:     processor,
		webhookClient: webhookClient,
		metrics:       m,
		logger:        opts.Logger,
		batchOpts:     opts.BatchOptions,
	}

	s.workerPool = worker.New(worker.Options{
		Workers:   serverConfig.WorkerCount,
		Processor: processor.ProcessorFunc(),
		Sender:    s.sendWebhook,
		Logger:    opts.Logger,
	})

	s.setupRoutes()
	return s
}

func (s *Server) sendWebhook(ctx context.Context, item models.WebhookItem) error {
	if s.serverConfig.WebhookURL == "" {
		return nil
	}
	err := s.webhookClient.Send(ctx, item)
	s.metrics.WebhookSent(err)
	return err
}

// setupRoutes configures HTTP routes and handlers
func (s *Server) setupRoutes() {
	mux := http.NewServeMux()

	deps := handlers.Deps{
		Circuits:   s.processor,
		Calculator: webhook.NewCalculator(s.logger),
		Logger:     s.logger,
	}
	eisHandler := handlers.NewEISHandler(s.config, s.workerPool, deps)
	batchHandler := handlers.NewBatchHandler(s.config, s.workerPool, deps, s.batchOpts...)
	fitHandler := handlers.NewFitHandler(s.config, s.workerPool, deps)

	mux.Handle("/eis-data", s.metrics.Middleware("eis-single", eisHandler))
	mux.Handle("/eis-data/batch", s.metrics.Middleware("eis-batch", batchHandler))
	mux.Handle("/fit", s.metrics.Middleware("fit", fitHandler))
	mux.HandleFunc("/health", s.healthHandler)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	// fits can run for the whole configured timeout
	writeTimeout := 15 * time.Second
	if s.config.Timeout+5*time.Second > writeTimeout {
		writeTimeout = s.config.Timeout + 5*time.Second
	}

	s.httpServer = &http.Server{
		Addr:         ":" + s.serverConfig.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// healthHandler provides a simple health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"workers":   s.workerPool.Workers(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Start starts the HTTP server and blocks until it stops. It returns nil
// after a graceful Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.serverConfig.Port,
		"endpoints", []string{"/eis-data", "/eis-data/batch", "/fit", "/health", "/metrics"})

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP connections, then stops the worker pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	err := s.httpServer.Shutdown(ctx)
	s.workerPool.Shutdown()

	s.logger.Info("server shutdown complete")
	return err
}
