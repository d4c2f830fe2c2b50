package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/dispatch/internal/app/dispatch"
	"github.com/ahrav/dispatch/internal/config"
	domain "github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/domain/events"
	"github.com/ahrav/dispatch/internal/infra/eventbus/kafka"
	"github.com/ahrav/dispatch/internal/infra/eventbus/memory"
	storememory "github.com/ahrav/dispatch/internal/infra/storage/dispatch/memory"
	"github.com/ahrav/dispatch/pkg/common"
	"github.com/ahrav/dispatch/pkg/common/logger"
	"github.com/ahrav/dispatch/pkg/common/otel"
)

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, mp, telemetryTeardown, err := initTelemetry(log, cfg)
	if err != nil {
		return err
	}
	defer telemetryTeardown(context.Background())

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(cfg.Server.HealthAddr, ready)
	debugServer, err := common.NewDebugServer(cfg.Server.DebugAddr)
	if err != nil {
		return err
	}

	archive, closeArchive, err := openArchive(ctx, log, cfg, tracer)
	if err != nil {
		return err
	}
	defer closeArchive()

	opts := []dispatch.Option{dispatch.WithCallReportRepository(archive)}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := newPublisher(cfg, log, mp, tracer)
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error(context.Background(), "failed to close kafka producer", "error", err)
			}
		}()
		opts = append(opts, dispatch.WithEventPublisher(publisher))
	} else {
		log.Info(ctx, "no kafka brokers configured, call events are logged in-process")
		bus := memory.NewBroker()
		if err := bus.Subscribe(ctx, logEvent(log)); err != nil {
			return err
		}
		opts = append(opts, dispatch.WithEventPublisher(bus))
	}

	coordMetrics, err := dispatch.NewCoordinatorMetrics(mp)
	if err != nil {
		return fmt.Errorf("failed to create coordinator metrics: %w", err)
	}
	coord := dispatch.NewCoordinator(coordinatorConfig(cfg.Coordinator), coordMetrics, tracer, log, opts...)
	coord.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(healthServer.ListenAndServe)
	g.Go(func() error { return common.RunDebugServer(debugServer) })

	if cfg.Archive.Retention > 0 {
		retention, err := dispatch.NewArchiveRetention(coord, archive, cfg.Archive.Retention, cfg.Archive.PurgeInterval, log)
		if err != nil {
			return err
		}
		g.Go(func() error { return retention.Run(gctx) })
	}

	ready.Store(true)
	log.Info(ctx, "dispatcher started",
		"health_addr", cfg.Server.HealthAddr,
		"debug_addr", cfg.Server.DebugAddr,
	)

	g.Go(func() error {
		<-gctx.Done()
		ready.Store(false)
		log.Info(context.Background(), "shutting down dispatcher")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := coord.Stop(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "running calls did not finish before shutdown", "error", err)
		}
		if err := debugServer.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "error shutting down debug server", "error", err)
		}
		if err := healthServer.Server().Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "error shutting down health server", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func initTelemetry(log *logger.Logger, cfg *config.Config) (trace.Tracer, metric.MeterProvider, func(context.Context), error) {
	if !cfg.Telemetry.Enabled {
		mp := otel.NewMeterProvider(cfg.Telemetry.ServiceName)
		teardown := func(ctx context.Context) { _ = mp.Shutdown(ctx) }
		return noop.NewTracerProvider().Tracer(cfg.Telemetry.ServiceName), mp, teardown, nil
	}

	hostname, _ := os.Hostname()
	tp, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
			"/metrics":      {},
		},
		Probability: cfg.Telemetry.SamplingRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
			"service.version":  version,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
		MetricInterval:   cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tp.Tracer(cfg.Telemetry.ServiceName), otel.GetMeterProvider(), teardown, nil
}

func newPublisher(
	cfg *config.Config,
	log *logger.Logger,
	mp metric.MeterProvider,
	tracer trace.Tracer,
) (*kafka.CallEventPublisher, error) {
	producer, err := kafka.ConnectProducer(&kafka.ClientConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		return nil, err
	}

	publisherMetrics, err := kafka.NewPublisherMetrics(mp)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("failed to create publisher metrics: %w", err)
	}

	publisher, err := kafka.NewCallEventPublisher(producer, kafka.PublisherConfig{
		CallEventsTopic: cfg.Kafka.CallEventsTopic,
		ProgressTopic:   cfg.Kafka.ProgressTopic,
	}, log, publisherMetrics, tracer)
	if err != nil {
		_ = producer.Close()
		return nil, err
	}
	return publisher, nil
}

// openArchive returns the Postgres archive when a DSN is configured and an
// in-memory one otherwise.
func openArchive(
	ctx context.Context,
	log *logger.Logger,
	cfg *config.Config,
	tracer trace.Tracer,
) (domain.CallReportRepository, func(), error) {
	if cfg.Postgres.DSN == "" {
		log.Warn(ctx, "no postgres dsn configured, archived call reports are kept in memory")
		return storememory.NewCallReportStore(), func() {}, nil
	}

	pool, err := openPool(ctx, log, cfg)
	if err != nil {
		return nil, nil, err
	}
	return newPostgresArchive(pool, tracer), pool.Close, nil
}

func logEvent(log *logger.Logger) memory.Handler {
	return func(ctx context.Context, env events.EventEnvelope) error {
		log.Debug(ctx, "call event",
			"event_type", string(env.Type),
			"call_request_id", env.Key,
			"occurred_at", env.Timestamp,
		)
		return nil
	}
}

func coordinatorConfig(c config.CoordinatorConfig) dispatch.Config {
	return dispatch.Config{
		ConcurrencyThreshold:    c.ConcurrencyThreshold,
		CompletedCallLifetime:   c.CompletedCallLifetime,
		CullInterval:            c.CullInterval,
		CancelTimeout:           c.CancelTimeout,
		InterruptPollInterval:   c.InterruptPollInterval,
		ProgressEventsPerSecond: c.ProgressEventsPerSecond,
		ProgressEventBurst:      c.ProgressEventBurst,
	}
}
