package server

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"Orion/internal/core"
	"Orion/internal/observability"
	"Orion/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Queries is the read side served over HTTP; *query.QueryService
// satisfies it.
type Queries interface {
	GetVault(ctx context.Context, addr common.Address) (*query.VaultResponse, error)
	ListVaults(ctx context.Context) ([]query.VaultResponse, error)
	GetVaultHistory(ctx context.Context, addr common.Address, limit int, before *int64) ([]query.VaultHistoryEntry, error)
	GetBalance(ctx context.Context, token, holder common.Address) (*query.BalanceResponse, error)
	GetSettlements(ctx context.Context, target *string, limit int, before *int64) ([]query.SettlementResponse, error)
	GetJournalHistory(ctx context.Context, holder common.Address, limit int, before *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Admin injects owner commands; *ingestion.AdminIngestService satisfies it.
type Admin interface {
	CreateVault(ctx context.Context, curator common.Address) (uuid.UUID, error)
	ListToken(ctx context.Context, token common.Address, decimals uint8, delist bool) (uuid.UUID, error)
	CreditFunds(ctx context.Context, token, holder common.Address, amount *big.Int) (uuid.UUID, error)
}

// StatusProvider exposes the live core position.
type StatusProvider interface {
	Status() core.Status
	GetSequence() int64
	GetStateHash() [32]byte
}

// EventLog reports the durable head of the event log.
type EventLog interface {
	GetLatestSequence(ctx context.Context) (int64, error)
}

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway mux.
type GRPCServer struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	deps         *ServerDeps
	logger       zerolog.Logger
}

// ServerDeps holds everything the HTTP routes read from.
type ServerDeps struct {
	Queries         Queries
	Admin           Admin
	Core            StatusProvider
	EventLog        EventLog
	RebuildBalances func(ctx context.Context) error
	HealthChecker   *observability.HealthChecker
	Metrics         *observability.Metrics
	Logger          zerolog.Logger
}

// NewGRPCServer creates the gRPC server with health and reflection
// registered. The health status stays NOT_SERVING until SetServing(true).
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		deps:         deps,
		logger:       deps.Logger.With().Str("component", "server").Logger(),
	}
}

// SetServing flips the gRPC health status.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler builds the HTTP surface: JSON routes on a gateway ServeMux plus
// the liveness and readiness probes.
func (s *GRPCServer) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if hc := s.deps.HealthChecker; hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTPGateway serves the HTTP surface (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// in-flight admin requests finish before this returns
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}
