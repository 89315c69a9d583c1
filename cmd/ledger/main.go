package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"colonyledger/internal/application"
	"colonyledger/internal/config"
	"colonyledger/internal/infrastructure/ethrpc"
	"colonyledger/internal/infrastructure/kafka"
	"colonyledger/internal/infrastructure/logging"
	"colonyledger/internal/infrastructure/rediscache"
	"colonyledger/internal/infrastructure/storage"
	"colonyledger/internal/infrastructure/telemetry"
	"colonyledger/internal/interfaces/httpapi"
	"colonyledger/internal/ledger"
	"colonyledger/internal/query"
	"colonyledger/internal/reconcile"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	logFile, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		slog.Error("logger init error", "err", err)
	}
	defer logFile.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:    "colonyledger",
		ServiceVersion: version,
		Endpoint:       cfg.OtelEndpoint,
	})
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown error", "err", err)
		}
	}()

	if err := run(ctx, cfg); err != nil {
		slog.Error("ledger service stopped", "err", err)
		exitCode = 1
	}
}

func run(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	repo, err := storage.Open(cfg.DBDSN)
	if err != nil {
		return err
	}
	defer repo.Close()
	slog.Info("record store opened", "kind", repo.Kind())

	chain, err := ethrpc.Dial(ctx, ethrpc.Config{URL: cfg.RPCURL, BlockTimeCacheSize: cfg.BlockTimeCacheSize})
	if err != nil {
		return err
	}
	defer chain.Close()

	metrics := httpapi.NewMetrics()
	checks := map[string]httpapi.Pinger{"db": repo}

	var publisher application.RecordPublisher
	if cfg.KafkaEnabled() {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.RecordsTopic()})
		if err != nil {
			return err
		}
		defer producer.Close()
		publisher = producer
	}

	recorder, err := application.NewRecorder(repo, publisher, metrics)
	if err != nil {
		return err
	}
	observers := []ledger.Option{ledger.WithObserver(recorder)}

	facadeOpts := []query.Option{}
	if cfg.RedisAddr != "" {
		cache, err := rediscache.New(ctx, rediscache.Config{Addr: cfg.RedisAddr, TTL: cfg.CacheTTL})
		if err != nil {
			return err
		}
		defer cache.Close()
		invalidator, err := application.NewCacheInvalidator(cache)
		if err != nil {
			return err
		}
		observers = append(observers, ledger.WithObserver(invalidator))
		facadeOpts = append(facadeOpts, query.WithCache(cache))
		checks["redis"] = cache
	}
	if len(cfg.ColonyNames) > 0 {
		names, err := query.ParseStaticNames(cfg.ColonyNames)
		if err != nil {
			return err
		}
		facadeOpts = append(facadeOpts, query.WithNames(names))
	}

	session, err := application.RestoreSession(ctx, repo, observers...)
	if err != nil {
		return err
	}
	defer session.Close()

	policy, err := reconcile.ParseJoinPolicy(cfg.ReconcilePolicy)
	if err != nil {
		return err
	}
	reconciler := reconcile.New(reconcile.Options{Workers: cfg.ReconcileWorkers, Policy: policy})
	facade, err := query.NewFacade(session, chain, reconciler, facadeOpts...)
	if err != nil {
		return err
	}

	server, err := httpapi.NewServer(facade, session, checks, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		cancel()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
			fail(err)
		}
	}()

	if cfg.KafkaEnabled() {
		reader, err := kafka.NewCommandReader(kafka.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   cfg.CommandsTopic(),
		})
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		defer reader.Close()
		consumer, err := application.NewCommandConsumer(reader, session, metrics)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("command consumer started", "topic", cfg.CommandsTopic(), "group", cfg.KafkaGroupID)
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, ledger.ErrSessionClosed) {
				fail(err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.ShutdownTimeout):
		slog.Warn("shutdown timed out")
	}

	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}
