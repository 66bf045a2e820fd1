package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pulsadash/topup-sender/internal/health"
	"github.com/pulsadash/topup-sender/internal/repository/postgres"
	"github.com/pulsadash/topup-sender/internal/settings"
	"github.com/pulsadash/topup-sender/internal/types"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIHandler is a custom handler type that returns data or an error
type APIHandler func(w http.ResponseWriter, r *http.Request) (interface{}, error)

// BatchManager is the batch lifecycle surface exposed over HTTP.
type BatchManager interface {
	Start(ctx context.Context, items []types.Item, delaySeconds float64) (
		types.Batch, error)
	Pause(batchID string) error
	Resume(ctx context.Context, batchID string) (types.Batch, error)
	Status(ctx context.Context, batchID string) (*types.Batch, error)
}

// ResultStore is the read/write persistence surface the handlers use.
type ResultStore interface {
	QueryResults(ctx context.Context, filter postgres.ResultFilter,
		limit, offset int) ([]types.Result, int, error)
	GetResult(ctx context.Context, refID string) (*types.Result, error)
	UpsertResult(ctx context.Context, result types.Result) error
	RecountBatch(ctx context.Context, batchID string) (*types.Batch, error)
}

// Broadcaster pushes state changes towards connected dashboard clients.
type Broadcaster interface {
	TransactionUpdated(result types.Result)
	BatchUpdated(batch types.Batch)
}

// SettingsStore is the dashboard configuration surface.
type SettingsStore interface {
	Get(ctx context.Context) (*settings.Settings, error)
	Set(ctx context.Context, field, value string) error
}

type Server struct {
	config     *Config
	manager    BatchManager
	store      ResultStore
	broadcast  Broadcaster
	settings   SettingsStore
	checker    *health.Checker
	httpServer *http.Server
	ctx        context.Context
	log        *slog.Logger
}

type Config struct {
	ListenAddr   string
	ListenPort   int
	MetricsPort  int
	ProbesPort   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	ID           string
}

func NewServer(config *Config, manager BatchManager, store ResultStore,
	broadcast Broadcaster, settingsStore SettingsStore,
	checker *health.Checker) *Server {

	return &Server{
		config:    config,
		manager:   manager,
		store:     store,
		broadcast: broadcast,
		settings:  settingsStore,
		checker:   checker,
		log:       slog.With("pod", config.ID, "component", "web-server"),
		httpServer: &http.Server{
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

func (s *Server) StartProbesAndMetrics() {
	// Expose Prometheus metrics
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		slog.Info("Serving metrics", "port", s.config.MetricsPort)

		addr := fmt.Sprintf(":%d", s.config.MetricsPort)
		slog.Error("Prometheus HTTP listener failed", "error",
			http.ListenAndServe(addr, nil))
	}()

	// Expose health probes
	go func() {
		http.Handle("/health", WithMethod(
			WithJSONResponse(s.HealthHandler),
			http.MethodGet,
		))

		http.Handle("/ready", WithMethod(
			WithJSONResponse(s.ReadinessHandler),
			http.MethodGet,
		))

		slog.Info("Serving health probes", "port", s.config.ProbesPort)

		addr := fmt.Sprintf(":%d", s.config.ProbesPort)
		slog.Error("Health checks HTTP listener failed", "error",
			http.ListenAndServe(addr, nil))
	}()
}

func (s *Server) Start(ctx context.Context, stop <-chan os.Signal) {
	s.StartProbesAndMetrics()

	mux := http.NewServeMux()

	// The order of middleware calls is up to bottom, first WithAuth is
	// called, then WithMethod and so on.
	mux.HandleFunc("/batches", WithAuth(WithMethod(
		WithJSONResponse(s.SubmitBatchHandler),
		http.MethodPost,
	)))

	mux.HandleFunc("/batches/{id}", WithAuth(WithMethod(
		WithJSONResponse(s.BatchStatusHandler),
		http.MethodGet,
	)))

	mux.HandleFunc("/batches/{id}/pause", WithAuth(WithMethod(
		WithJSONResponse(s.PauseBatchHandler),
		http.MethodPost,
	)))

	mux.HandleFunc("/batches/{id}/resume", WithAuth(WithMethod(
		WithJSONResponse(s.ResumeBatchHandler),
		http.MethodPost,
	)))

	mux.HandleFunc("/batches/{id}/results", WithAuth(WithMethod(
		WithJSONResponse(s.BatchResultsHandler),
		http.MethodGet,
	)))

	mux.HandleFunc("/settings", WithAuth(WithMethod(
		WithJSONResponse(s.GetSettingsHandler),
		http.MethodGet,
	)))

	mux.HandleFunc("/settings/update", WithAuth(WithMethod(
		WithJSONResponse(s.UpdateSettingsHandler),
		http.MethodPost,
	)))

	// the provider posts here; authenticated by ref_id knowledge, not by
	// a dashboard bearer token
	mux.HandleFunc("/callback/digiswitch", WithMethod(
		WithJSONResponse(s.CallbackHandler),
		http.MethodPost,
	))

	s.httpServer.Handler = http.TimeoutHandler(mux, s.config.WriteTimeout, "Timeout")

	go s.run(ctx)

	<-stop

	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exiting")
}

func (s *Server) run(ctx context.Context) {
	s.ctx = ctx

	slog.Info("Starting server", "port", s.config.ListenPort)

	// Use ListenConfig to create a listener with context support
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.config.ListenAddr, s.config.ListenPort))
	if err != nil {
		slog.Error("Error creating listener", "error", err)
	}
	defer listener.Close()

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		slog.Error("Could not start server", "error", err.Error())
	}
}
