package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"auditlog/internal/platform/config"
	"auditlog/internal/platform/httpserver"
	"auditlog/internal/platform/logger"
	"auditlog/internal/platform/metrics"
	"auditlog/internal/storage"
	httptransport "auditlog/internal/transport/http"
	"auditlog/pkg/platform/audit/publishers/stream"
	"auditlog/pkg/platform/audit/registry"
	"auditlog/pkg/platform/audit/writer"
	"auditlog/pkg/platform/circuit"
	"auditlog/pkg/platform/middleware/auth"
)

// main wires configuration, the store, the writer and the HTTP router, and
// runs the server until SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registrations, err := loadRegistrations(cfg.RegistryFile)
	if err != nil {
		return err
	}
	tracking := registry.New(registrations...)
	if cfg.Server.TrackReads {
		tracking.Register(httptransport.EntryResourceType, registry.Options{})
	}

	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error("closing store", "error", err)
		}
	}()

	store := backend.Store
	var kafka *kgo.Client
	if cfg.Stream.Enabled() {
		client, err := stream.NewClient(cfg.Stream.Brokers,
			kgo.DefaultProduceTopic(cfg.Stream.Topic),
			kgo.RecordDeliveryTimeout(cfg.Stream.PublishTimeout),
		)
		if err != nil {
			return err
		}
		defer client.Close()
		kafka = client
		if err := stream.EnsureTopic(ctx, client, cfg.Stream.Topic, cfg.Stream.Partitions, cfg.Stream.ReplicationFactor); err != nil {
			return err
		}
		store = stream.NewMirror(store, client, cfg.Stream.Topic,
			stream.WithLogger(log),
			stream.WithMetrics(stream.NewMetrics(reg)),
			stream.WithBreaker(circuit.New("audit-stream")),
			stream.WithPublishTimeout(cfg.Stream.PublishTimeout),
		)
		log.Info("mirroring audit entries", "topic", cfg.Stream.Topic, "brokers", cfg.Stream.Brokers)
	}

	w := writer.New(tracking, store,
		writer.WithLogger(log),
		writer.WithMetrics(writer.NewMetrics(reg)),
	)

	opts := []httptransport.Option{httptransport.WithLogger(log)}
	for name, check := range backend.Checks {
		opts = append(opts, httptransport.WithHealthCheck(name, check))
	}
	handler := httptransport.NewHandler(store, w, tracking, opts...)

	routerOpts := httptransport.RouterOptions{
		Metrics:        metrics.New(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		TrackReads:     cfg.Server.TrackReads,
		Logger:         log,
	}
	if cfg.Server.JWTSigningKey != "" {
		routerOpts.Validator = auth.NewHMACValidator(cfg.Server.JWTSigningKey, "")
	}
	router := httptransport.NewRouter(handler, routerOpts)
	srv := httpserver.New(cfg.Server.Addr, otelhttp.NewHandler(router, "auditlog"))

	log.Info("starting auditlog",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Backend,
		"tracked_types", len(tracking.Types()),
		"track_reads", cfg.Server.TrackReads,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	if kafka != nil {
		g.Go(func() error {
			<-gctx.Done()
			flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := kafka.Flush(flushCtx); err != nil {
				log.Warn("flushing audit stream", "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func loadRegistrations(path string) ([]registry.Registration, error) {
	if path == "" {
		return nil, nil
	}
	regs, err := registry.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return regs, nil
}
