// Package http exposes the churn analytics API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"churnlens/analytics"
	"churnlens/insight"
	"churnlens/ml"
)

// AnalyticsService is the aggregate layer the handlers read from.
type AnalyticsService interface {
	KPIs(ctx context.Context) (analytics.KPIs, error)
	ChurnByContract(ctx context.Context) ([]analytics.SegmentChurn, error)
	ChurnByPayment(ctx context.Context) ([]analytics.SegmentChurn, error)
	FeatureChurn(ctx context.Context, features []string) ([]analytics.FeatureChurn, error)
	AvailableFeatures() []string
	TenureBins(ctx context.Context) ([]analytics.Bin, error)
	MonthlyBins(ctx context.Context) ([]analytics.Bin, error)
}

// ModelTrainer owns the baseline model lifecycle.
type ModelTrainer interface {
	LoadOrTrain(ctx context.Context) (*ml.Result, error)
	ForceRetrain(ctx context.Context) (*ml.Result, error)
	CachedInfo() ml.Info
}

// InsightGenerator produces written analyses from churn aggregates.
type InsightGenerator interface {
	Generate(ctx context.Context, req insight.Request) (*insight.Result, error)
}

// EventStream accepts websocket subscribers.
type EventStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
}

// DefaultServerConfig returns the settings used when the config file
// leaves the http section empty.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        60 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Deps are the services the API serves. Narrator and Events may be nil;
// their endpoints then report unavailable.
type Deps struct {
	Analytics AnalyticsService
	Trainer   ModelTrainer
	Narrator  InsightGenerator
	Events    EventStream
	Logger    *zap.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// NewServer wires routes and middleware around the given services.
func NewServer(config ServerConfig, deps Deps) *Server {
	mux := http.NewServeMux()
	api := &api{deps: deps}
	api.register(mux)

	chain := Chain(
		RecoveryMiddleware(deps.Logger),
		LoggerMiddleware(deps.Logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		TimeoutMiddleware(config.Timeout),
	)

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      chain(mux),
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
			IdleTimeout:  120 * time.Second,
		},
		config: config,
		logger: deps.Logger,
	}
}

// Handler returns the fully wrapped handler, used by tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.server.Addr }
