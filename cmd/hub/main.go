package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"maps"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelapi "go.opentelemetry.io/otel"
	"go.uber.org/automaxprocs/maxprocs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/edgesignal/fleethub/db"
	"github.com/edgesignal/fleethub/internal/api"
	"github.com/edgesignal/fleethub/internal/api/debug"
	appanalytics "github.com/edgesignal/fleethub/internal/app/analytics"
	"github.com/edgesignal/fleethub/internal/app/dispatcher"
	appfleet "github.com/edgesignal/fleethub/internal/app/fleet"
	"github.com/edgesignal/fleethub/internal/config"
	"github.com/edgesignal/fleethub/internal/domain/fleet"
	"github.com/edgesignal/fleethub/internal/infra/eventbus/kafka"
	"github.com/edgesignal/fleethub/internal/infra/metrics"
	"github.com/edgesignal/fleethub/internal/infra/rpc"
	"github.com/edgesignal/fleethub/internal/infra/rpc/wire"
	analyticsmem "github.com/edgesignal/fleethub/internal/infra/storage/analytics/memory"
	fleetmem "github.com/edgesignal/fleethub/internal/infra/storage/fleet/memory"
	fleetpg "github.com/edgesignal/fleethub/internal/infra/storage/fleet/postgres"
	"github.com/edgesignal/fleethub/pkg/common/logger"
	"github.com/edgesignal/fleethub/pkg/common/otel"
	"github.com/edgesignal/fleethub/pkg/common/timeutil"
)

var build = "develop"

const serviceType = "fleet-hub"

func main() {
	// Set the correct number of threads for the service.
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			maps.Copy(errorAttrs, r.Attributes)

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("FLEET-HUB-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"build":    build,
		"app":      serviceType,
	}

	lg := logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	ctx := context.Background()

	if err := run(ctx, lg, hostname); err != nil {
		lg.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname string) error {
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	// -------------------------------------------------------------------------
	// Configuration

	cfg, err := config.Load(os.Getenv("FLEETHUB_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// -------------------------------------------------------------------------
	// Start Tracing Support

	log.Info(ctx, "startup", "status", "initializing tracing support")

	serviceName := cfg.Otel.ServiceName
	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      serviceName,
		ExporterEndpoint: cfg.Otel.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: cfg.Otel.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"hostname":         hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)

	tracer := traceProvider.Tracer(serviceName)

	recorder, err := metrics.New(otelapi.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("creating metrics recorder: %w", err)
	}

	// -------------------------------------------------------------------------
	// Fleet Store

	var fleetStore fleet.Store
	switch cfg.Fleet.Store {
	case config.FleetStorePostgres:
		log.Info(ctx, "startup", "status", "running database migrations")
		if err := db.RunMigrations(cfg.Fleet.PostgresDSN); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.Fleet.PostgresDSN)
		if err != nil {
			return fmt.Errorf("parsing postgres dsn: %w", err)
		}
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()

		fleetStore = fleetpg.NewFleetStore(pool, tracer)
		log.Info(ctx, "startup", "status", "postgres fleet store ready")

	default:
		fleetStore = fleetmem.NewStore()
		log.Info(ctx, "startup", "status", "in-memory fleet store ready")
	}

	fleetService := appfleet.NewService(fleetStore, log, tracer)

	// -------------------------------------------------------------------------
	// Audit Publisher

	var audit dispatcher.AuditSink = dispatcher.NoopAuditSink{}
	if len(cfg.Kafka.Brokers) > 0 {
		log.Info(ctx, "startup", "status", "connecting kafka audit publisher",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.AuditTopic,
		)

		client, err := kafka.ConnectClient(&kafka.ClientConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			return fmt.Errorf("connecting kafka client: %w", err)
		}
		defer client.Close()

		publisher, err := kafka.NewAuditPublisher(client, cfg.Kafka.AuditTopic, timeutil.Default(), log)
		if err != nil {
			return fmt.Errorf("creating audit publisher: %w", err)
		}
		defer publisher.Close()

		audit = publisher
	}

	// -------------------------------------------------------------------------
	// Dispatch Engine

	log.Info(ctx, "startup", "status", "initializing dispatch engine")

	hub := dispatcher.NewHub(dispatcher.HubConfig{
		SessionBuffer: cfg.Dispatch.SessionBuffer,
		Fleets:        fleetService,
		Audit:         audit,
		Clock:         timeutil.Default(),
		Logger:        log,
		Tracer:        tracer,
		Metrics:       recorder,
	})

	// -------------------------------------------------------------------------
	// Analytics Ingestion

	ingestStore := analyticsmem.NewStore(cfg.Analytics.StoreCapacity)
	ingestService := appanalytics.NewService(appanalytics.Config{
		MaxBatchSize:     cfg.Analytics.MaxBatchSize,
		BatchesPerSecond: cfg.Analytics.BatchesPerSecond,
		Burst:            cfg.Analytics.Burst,
	}, ingestStore, timeutil.Default(), log, tracer, recorder)

	// -------------------------------------------------------------------------
	// Start gRPC Server

	gatewayServer := rpc.NewGatewayServer(hub, audit, log, tracer, recorder)
	analyticsServer := rpc.NewAnalyticsServer(ingestService, log, tracer)

	handler := otelgrpc.NewServerHandler(
		otelgrpc.WithTracerProvider(traceProvider),
	)
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(handler),
	)
	wire.RegisterDeviceGatewayServer(grpcServer, gatewayServer)
	wire.RegisterAnalyticsIngestServer(grpcServer, analyticsServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	grpcListener, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC addr: %w", err)
	}

	grpcServerErrors := make(chan error, 1)
	go func() {
		log.Info(ctx, "startup", "status", "gRPC server started", "host", cfg.GRPC.Addr)
		grpcServerErrors <- grpcServer.Serve(grpcListener)
	}()

	// -------------------------------------------------------------------------
	// Start Admin HTTP Server

	adminAPI := api.NewServer(api.Config{
		Hub:            hub,
		Fleets:         fleetService,
		Analytics:      ingestService,
		CommandTimeout: cfg.Dispatch.CommandTimeout,
		ContentTimeout: cfg.Dispatch.ContentTimeout,
		Logger:         log,
		Tracer:         tracer,
	})

	httpServer := http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      otelhttp.NewHandler(adminAPI, "admin-api", otelhttp.WithTracerProvider(traceProvider)),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	httpServerErrors := make(chan error, 1)
	go func() {
		log.Info(ctx, "startup", "status", "admin HTTP server started", "host", cfg.HTTP.Addr)
		httpServerErrors <- httpServer.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Start Debug Server

	go func() {
		log.Info(ctx, "startup", "status", "debug server started", "host", cfg.Debug.Addr)
		if err := http.ListenAndServe(cfg.Debug.Addr, debug.Mux()); err != nil {
			log.Error(ctx, "shutdown", "status", "debug server closed", "error", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-httpServerErrors:
		return fmt.Errorf("http server error: %w", err)

	case err := <-grpcServerErrors:
		return fmt.Errorf("grpc server error: %w", err)

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
		defer cancel()

		// Stop accepting new dispatches and resolve every in-flight waiter,
		// then drain the transports.
		hub.Shutdown(ctx)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		log.Info(ctx, "shutdown", "status", "stopping HTTP server")
		if err := httpServer.Shutdown(ctx); err != nil {
			httpServer.Close()
			return fmt.Errorf("could not stop HTTP server gracefully: %w", err)
		}

		log.Info(ctx, "shutdown", "status", "stopping gRPC server")
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.GRPC.ShutdownTimeout):
			grpcServer.Stop()
		}
	}

	return nil
}
