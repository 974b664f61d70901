package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"Orion/internal/core"
	"Orion/internal/ingestion"
	"Orion/internal/observability"
	"Orion/internal/orchestrator"
	"Orion/internal/persistence"
	"Orion/internal/projection"
	"Orion/internal/proof"
	"Orion/internal/protocol"
	"Orion/internal/query"
	"Orion/internal/server"
	"Orion/migrations"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: Orion starting...")

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: config: %v", err)
	}

	protoCfg, err := protocol.Load(cfg.ProtocolConfigPath)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	oracleEntries, err := loadOracleEntries(cfg.ProtocolConfigPath)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	logger := observability.NewLogger("orion")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	logger.Info().Msg("postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, migrations.FS, logger)
	applied, err := migrator.Up(ctx)
	if err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Chain RPC ---
	var chain bind.ContractCaller
	if cfg.RPCURL != "" {
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			log.Fatalf("FATAL: rpc dial: %v", err)
		}
		defer client.Close()
		chain = client
		logger.Info().Msg("chain rpc connected")
	} else {
		logger.Warn().Msg("ORION_RPC_URL not set, on-chain price adapters disabled")
	}

	// --- Attester ---
	var attester *proof.Attester
	if cfg.AttesterKey != "" {
		attester, err = proof.NewAttester(cfg.AttesterKey)
	} else {
		attester, err = proof.GenerateAttester()
		logger.Warn().Msg("ORION_ATTESTER_KEY not set, using an ephemeral attester")
	}
	if err != nil {
		log.Fatalf("FATAL: attester: %v", err)
	}

	// --- Channels ---
	// persist channel blocks (backpressure), projection channel drops
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	projectionWorkerChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	rawEventChan := make(chan ingestion.RawEvent, cfg.IngestChanSize)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Deterministic Core ---
	snapMgr := persistence.NewSnapshotManager(db)
	deterministicCore := core.NewDeterministicCore(
		protoCfg,
		proof.NewAttestationVerifier(attester.Address()),
		0,
		persistChan,
		projectionChan,
		persistence.NewPostgresIdempotencyChecker(db),
		metrics,
	)

	// --- Recovery: load snapshot + replay ---
	if _, err := persistence.Recover(ctx, deterministicCore, snapMgr, logger.With().Str("component", "recovery").Logger()); err != nil {
		log.Fatalf("FATAL: recovery: %v", err)
	}

	// --- Sinks: persistence, projections, outbound events ---
	// Started before adapter wiring, which already emits events.
	sinkCtx, sinkCancel := context.WithCancel(context.Background())
	defer sinkCancel()
	var sinks sync.WaitGroup
	errChan := make(chan error, 16)

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics,
		logger.With().Str("component", "persistence").Logger())
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics,
		logger.With().Str("component", "projection").Logger())

	js, nc := mustConnectNATS(ctx, cfg, logger)
	defer nc.Close()
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan, logger.With().Str("component", "publisher").Logger())

	for name, run := range map[string]func(context.Context) error{
		"persistence": persistWorker.Run,
		"projection":  projWorker.Run,
		"publisher":   outboundPublisher.Run,
	} {
		sinks.Add(1)
		go func(name string, run func(context.Context) error) {
			defer sinks.Done()
			if err := run(sinkCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, run)
	}

	sinks.Add(1)
	go func() {
		defer sinks.Done()
		fanOut(projectionChan, projectionWorkerChan, publishChan, metrics)
	}()

	// --- Price adapters ---
	factory := newAdapterFactory(protoCfg, deterministicCore, chain)
	if err := wireAdapters(ctx, deterministicCore, factory, oracleEntries, logger); err != nil {
		log.Fatalf("FATAL: price adapters: %v", err)
	}

	// --- Keeper ---
	keeper := orchestrator.NewKeeper(
		deterministicCore,
		orchestrator.PaperExecutor{SlippageBps: cfg.KeeperSlippageBps},
		attester,
		cfg.KeeperInterval,
		logger.With().Str("component", "keeper").Logger(),
	)

	// --- NATS ingestion ---
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, metrics, logger.With().Str("component", "subscriber").Logger())
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}
	dispatcher := ingestion.NewDispatcher(deterministicCore, keeper, ingestion.DefaultSubjects(), metrics,
		logger.With().Str("component", "dispatcher").Logger())

	// --- gRPC + HTTP server ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Queries:  query.NewQueryService(db, protoCfg, protoCfg.BaseDecimals),
		Admin:    ingestion.NewAdminIngestService(deterministicCore, protoCfg.Roles.Owner),
		Core:     deterministicCore,
		EventLog: snapMgr,
		RebuildBalances: func(ctx context.Context) error {
			return projection.RebuildBalances(ctx, db, logger)
		},
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        logger,
	})

	healthChecker.Register("postgres", db.PingContext)
	healthChecker.Register("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	})

	// --- Producers: everything that drives the core ---
	var producers sync.WaitGroup
	for name, run := range map[string]func(context.Context) error{
		"dispatcher": func(ctx context.Context) error { return dispatcher.Run(ctx, rawEventChan) },
		"keeper":     keeper.Run,
		"grpc":       grpcServer.StartGRPC,
		"http":       grpcServer.StartHTTPGateway,
	} {
		producers.Add(1)
		go func(name string, run func(context.Context) error) {
			defer producers.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, run)
	}

	// --- Metrics server + channel gauges ---
	go serveMetrics(ctx, cfg.MetricsAddr, errChan, logger)
	go watchChannels(ctx, metrics, map[string]func() (int, int){
		"persist":    func() (int, int) { return len(persistChan), cap(persistChan) },
		"projection": func() (int, int) { return len(projectionChan), cap(projectionChan) },
		"publish":    func() (int, int) { return len(publishChan), cap(publishChan) },
		"ingest":     func() (int, int) { return len(rawEventChan), cap(rawEventChan) },
	})

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	logger.Info().
		Int64("sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("Orion ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Stringer("signal", sig).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop producers first so the core is idle, then drain the sinks.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	cancel()
	natsSubscriber.Stop()
	producers.Wait()

	close(persistChan)
	close(projectionChan)

	drained := make(chan struct{})
	go func() {
		sinks.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("sinks did not drain in time")
		sinkCancel()
		<-drained
	}

	logger.Info().Int64("sequence", deterministicCore.GetSequence()).Msg("Orion shutdown complete")
}

// fanOut copies projection outputs to the projection worker and the
// outbound publisher. Both sides drop when full.
func fanOut(in <-chan core.CoreOutput, projections chan<- core.CoreOutput, publish chan<- ingestion.PublishableEvent, metrics *observability.Metrics) {
	defer close(projections)
	defer close(publish)
	for out := range in {
		select {
		case projections <- out:
		default:
			metrics.ProjectionDrops.WithLabelValues("worker").Inc()
		}
		select {
		case publish <- ingestion.NewPublishableEvent(out):
		default:
			metrics.PublishDrops.Inc()
		}
	}
}

func mustConnectNATS(ctx context.Context, cfg Config, logger zerolog.Logger) (jetstream.JetStream, *nats.Conn) {
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
		log.Fatalf("FATAL: ensure outbound stream: %v", err)
	}
	logger.Info().Msg("NATS connected")
	return js, nc
}

func serveMetrics(ctx context.Context, addr string, errChan chan<- error, logger zerolog.Logger) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		metricsServer.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errChan <- fmt.Errorf("metrics server: %w", err)
	}
}

// watchChannels samples channel fill levels every second.
func watchChannels(ctx context.Context, metrics *observability.Metrics, channels map[string]func() (int, int)) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, sample := range channels {
				size, capacity := sample()
				metrics.ChannelSize.WithLabelValues(name).Set(float64(size))
				metrics.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
			}
		}
	}
}
