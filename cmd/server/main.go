package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"kestrel/api/grpcserver"
	"kestrel/config"
	"kestrel/infra/journal"
	"kestrel/infra/kafka"
	"kestrel/infra/logging"
	"kestrel/infra/memory"
	"kestrel/infra/metrics"
	"kestrel/infra/refdata"
	walog "kestrel/infra/wal"
	"kestrel/jobs/broadcaster"
	"kestrel/service"
)

// store is a journal the server can recover from.
type store interface {
	service.Journal
	Load() (journal.State, error)
	Close() error
}

func main() {
	cfgPath := flag.String("config", "", "path to YAML config")
	envFile := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	cfg := config.MustLoad(*cfgPath, *envFile)

	log, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	cat, err := refdata.FromConfig(cfg.RefData)
	if err != nil {
		return err
	}

	// ---------------- Journal ----------------

	j, outbox, err := openJournal(cfg.Journal, log)
	if err != nil {
		return err
	}
	defer j.Close()

	st, err := j.Load()
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// ---------------- Engine ----------------

	opts := []service.Option{
		service.WithLogger(log.Named("engine")),
		service.WithObserver(metrics.NewObserver(reg)),
	}
	if cfg.Kafka.Enabled() {
		fills := kafka.NewNotifier(cfg.Kafka.Brokers, cfg.Kafka.FillsTopic, log)
		defer fills.Close()
		opts = append(opts, service.WithNotifier(fills))
	}

	eng := service.New(service.Config{
		Memory: memory.Config{
			PageSize:       cfg.Engine.PageSize,
			MaxSmallBlocks: cfg.Engine.MaxSmallBlocks,
			MaxLargeBlocks: cfg.Engine.MaxLargeBlocks,
		},
		MaxLevels: cfg.Engine.MaxLevels,
	}, j, cat, opts...)

	if err := eng.Recover(service.Recovery{Orders: st.Orders, Trades: st.Trades}); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	metrics.RegisterArena(reg, eng.Stats)
	log.Info("engine recovered",
		zap.Int("orders", len(st.Orders)),
		zap.Int("trades", len(st.Trades)))

	g, ctx := errgroup.WithContext(ctx)

	// ---------------- Broadcaster ----------------

	switch {
	case !cfg.Kafka.Enabled():
		log.Info("kafka disabled, trade broadcast off")
	case outbox == nil:
		log.Warn("journal driver has no outbox, trade broadcast off", zap.String("driver", cfg.Journal.Driver))
	default:
		producer, err := broadcaster.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		bc := broadcaster.New(outbox, producer, cfg.Kafka.TradesTopic, cfg.Kafka.Interval, log)
		defer bc.Close()
		g.Go(func() error { return bc.Run(ctx) })
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPC.Addr, err)
	}
	srv := grpc.NewServer()
	grpcserver.Register(srv, grpcserver.NewServer(eng, cat, log))

	g.Go(func() error {
		log.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
		return srv.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		srv.GracefulStop()
		return nil
	})

	// ---------------- Metrics HTTP ----------------

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		hs := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	err = g.Wait()
	log.Info("shutting down", zap.Any("arena", eng.Stats()))
	return err
}

func openJournal(cfg config.Journal, log *zap.Logger) (store, *journal.Outbox, error) {
	jlog := log.Named("journal")
	switch cfg.Driver {
	case "pebble":
		p, err := journal.OpenPebble(cfg.Dir, nil, jlog)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Outbox(), nil
	case "wal":
		w, err := journal.OpenWAL(walog.Config{Dir: cfg.Dir, SegmentSize: cfg.SegmentSize}, jlog)
		if err != nil {
			return nil, nil, err
		}
		return w, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w %q", journal.ErrBadDriver, cfg.Driver)
	}
}
