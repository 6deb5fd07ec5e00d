package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/taskloom/internal/agent"
	"github.com/nextlevelbuilder/taskloom/internal/broker"
	"github.com/nextlevelbuilder/taskloom/internal/buffer"
	"github.com/nextlevelbuilder/taskloom/internal/config"
	"github.com/nextlevelbuilder/taskloom/internal/llm"
	"github.com/nextlevelbuilder/taskloom/internal/lock"
	"github.com/nextlevelbuilder/taskloom/internal/metrics"
	"github.com/nextlevelbuilder/taskloom/internal/objectstore"
	"github.com/nextlevelbuilder/taskloom/internal/store/pg"
	"github.com/nextlevelbuilder/taskloom/internal/tools"
	"github.com/nextlevelbuilder/taskloom/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion and task-distillation engine",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

// runServe wires every gateway explicitly (REDESIGN FLAGS: no global
// singletons) and runs until an interrupt or SIGTERM, mirroring the
// teacher's cmd/gateway.go shutdown sequence.
func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := pg.NewStores(ctx, cfg.Database.PostgresDSN, cfg.Database.MaxConns)
	if err != nil {
		slog.Error("open postgres", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisURL, DB: cfg.Lock.DB})
	sessionLock := lock.New(redisClient)

	proj := cfg.Snapshot()
	b, err := broker.New(cfg.Broker.AMQPURL, int32(proj.SessionLockWaitSeconds*1000), proj.MaxRetries, durationSeconds(proj.RetryDelaySeconds))
	if err != nil {
		slog.Error("connect broker", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	provider, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
		APIKey:       cfg.LLM.APIKey,
		APIBase:      cfg.LLM.APIBase,
		DefaultModel: cfg.LLM.Model,
	})
	if err != nil {
		slog.Error("configure llm provider", "error", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry(stores.Tasks)

	tracingCfg := tracing.Config{ServiceName: cfg.Telemetry.ServiceName}
	if cfg.Telemetry.Enabled {
		tracingCfg.Endpoint = cfg.Telemetry.OTLPEndpoint
	}
	tracer, shutdownTracing := tracing.New(tracingCfg)
	defer shutdownTracing(context.Background())

	m := metrics.New()
	if cfg.Telemetry.MetricsAddr != "" {
		go serveMetrics(cfg.Telemetry.MetricsAddr)
	}

	var objects *objectstore.Store
	if cfg.ObjectStore.Bucket != "" {
		objects, err = objectstore.New(ctx, objectstore.Config{
			Bucket:          cfg.ObjectStore.Bucket,
			Region:          cfg.ObjectStore.Region,
			Endpoint:        cfg.ObjectStore.Endpoint,
			Prefix:          cfg.ObjectStore.Prefix,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UsePathStyle:    cfg.ObjectStore.UsePathStyle,
		})
		if err != nil {
			slog.Error("configure object store", "error", err)
			os.Exit(1)
		}
	}

	loop := agent.New(provider, registry, stores.DB, stores.Tasks, b, proj.TaskAgentMaxIterations, tracer, m)
	controller := buffer.New(b, sessionLock, stores.Messages, stores.Tasks, loop, cfg, objects)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	slog.Info("taskloom serving", "buffer_max_turns", proj.BufferMaxTurns, "buffer_max_overflow", proj.BufferMaxOverflow)
	if err := controller.Run(ctx); err != nil {
		slog.Error("controller stopped", "error", err)
		os.Exit(1)
	}
}

func durationSeconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics listener stopped", "error", err)
	}
}
