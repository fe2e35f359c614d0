package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"mrtdreader/internal/mrtd/access"
	"mrtdreader/internal/mrtd/events"
	"mrtdreader/internal/mrtd/face"
	"mrtdreader/internal/mrtd/metrics"
	"mrtdreader/internal/mrtd/orchestrator"
	"mrtdreader/internal/mrtd/reader"
	"mrtdreader/internal/mrtd/service"
	"mrtdreader/internal/mrtd/smcrypto"
	"mrtdreader/internal/mrtd/store"
	"mrtdreader/internal/mrtd/tracer"
	"mrtdreader/internal/mrtd/workers/cleanup"
	"mrtdreader/internal/platform/config"
	"mrtdreader/internal/platform/health"
	"mrtdreader/internal/platform/kafka/producer"
	"mrtdreader/internal/platform/logger"
	redisclient "mrtdreader/internal/platform/redis"
	"mrtdreader/internal/transport/relay"
	"mrtdreader/pkg/platform/circuit"
	request "mrtdreader/pkg/platform/middleware/request"
)

// main wires the reader relay, the scan service and its result store behind
// the HTTP API. Scan logic lives in internal/mrtd.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mrtd server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Info("initializing mrtd reader service",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"result_store", storeKind(cfg),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	m := metrics.New()
	checks := health.New(cfg.Environment)

	results, closeStore, err := newResultStore(ctx, g, cfg, log, m, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	relayBreaker := circuit.New("relay")
	checks.RegisterCheck("relay", relayBreaker.Err)
	dialer, err := relay.NewDialer(cfg.RelayAddr,
		relay.WithBreaker(relayBreaker),
		relay.WithLogger(log),
		relay.WithExchangeTimeout(cfg.ExchangeTimeout),
		relay.WithDialTimeout(cfg.DialTimeout),
	)
	if err != nil {
		return err
	}

	opts := []service.Option{
		service.WithMetrics(m),
		service.WithLogger(log),
		service.WithRetention(cfg.ResultTTL),
	}
	if cfg.Kafka.Brokers != "" {
		emitter, closeEvents, err := newEventEmitter(cfg.Kafka, log, checks)
		if err != nil {
			return err
		}
		defer closeEvents()
		opts = append(opts, service.WithEvents(emitter))
	}
	svc := service.New(dialer, newOrchestrator(cfg, log, m), results, opts...)
	checks.SetScanProbe(svc.Busy)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(cfg, log, svc, checks, request.NewMetrics()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Warn("scan did not stop before shutdown deadline", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}

func newOrchestrator(cfg config.Server, log *slog.Logger, m *metrics.Metrics) *orchestrator.Orchestrator {
	files := reader.New(reader.WithBlockSize(cfg.MaxBlockSize), reader.WithLogger(log))
	negotiator := access.New(smcrypto.NewStdProvider(),
		access.WithLogger(log),
		access.WithReader(files),
	)
	return orchestrator.New(negotiator,
		orchestrator.WithReader(files),
		orchestrator.WithExtractor(face.NewExtractor(
			face.WithChunkSize(cfg.ImageChunkSize),
			face.WithDecoders(face.DefaultChain(cfg.OPJDecompress)...),
			face.WithLogger(log),
		)),
		orchestrator.WithTracer(tracer.NewOTel()),
		orchestrator.WithMetrics(m),
		orchestrator.WithLogger(log),
	)
}

// newResultStore returns the Redis store when REDIS_URL is set and the
// in-memory store with its sweeper otherwise.
func newResultStore(ctx context.Context, g *errgroup.Group, cfg config.Server, log *slog.Logger, m *metrics.Metrics, checks *health.Handler) (store.ResultStore, func(), error) {
	var sealer *store.Sealer
	if cfg.ResultKey != "" {
		s, err := store.NewSealer([]byte(cfg.ResultKey))
		if err != nil {
			return nil, nil, fmt.Errorf("MRTD_RESULT_KEY: %w", err)
		}
		sealer = s
	} else if cfg.IsProduction() || cfg.Redis.URL != "" {
		return nil, nil, errors.New("MRTD_RESULT_KEY is required to store results outside development")
	}

	if cfg.Redis.URL == "" {
		mem := store.NewInMemory(sealer, store.WithTTL(cfg.ResultTTL))
		sweeper := cleanup.New(mem, cleanup.WithLogger(log), cleanup.WithMetrics(m))
		g.Go(func() error {
			if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		return mem, func() {}, nil
	}

	client, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	checks.RegisterCheck("redis", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return client.Health(pingCtx)
	})
	prometheus.MustRegister(redisclient.NewPoolCollector(client))

	redisStore, err := store.NewRedis(client.Client, sealer, cfg.ResultTTL)
	if err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, nil, err
	}
	return redisStore, func() {
		if err := client.Close(); err != nil {
			log.Warn("closing redis client failed", "error", err)
		}
	}, nil
}

// newEventEmitter publishes scan outcomes to Kafka. The returned func drains
// queued events and closes the producer.
func newEventEmitter(cfg config.KafkaConfig, log *slog.Logger, checks *health.Handler) (*events.Emitter, func(), error) {
	prod, err := producer.New(producer.Config{
		Brokers:         cfg.Brokers,
		Acks:            cfg.Acks,
		Retries:         cfg.Retries,
		DeliveryTimeout: cfg.DeliveryTimeout,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	checks.RegisterOptionalCheck("kafka", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return prod.Ping(pingCtx)
	})
	emitter := events.NewEmitter(events.NewKafkaPublisher(prod, cfg.Topic), events.WithLogger(log))
	log.Info("publishing scan events", "topic", cfg.Topic)
	return emitter, func() {
		emitter.Close()
		prod.Close(5 * time.Second)
	}, nil
}

func storeKind(cfg config.Server) string {
	if cfg.Redis.URL != "" {
		return "redis"
	}
	return "memory"
}
