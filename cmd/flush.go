package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
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

// flushCmd exposes the blocking flush_session primitive directly, the
// way the teacher exposes internal primitives as debug subcommands
// (doctor.go) — useful for local operability ahead of any HTTP ingress.
func flushCmd() *cobra.Command {
	var projectID, sessionID string
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Force an immediate flush_session for one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := uuid.Parse(projectID)
			if err != nil {
				return fmt.Errorf("invalid --project: %w", err)
			}
			sid, err := uuid.Parse(sessionID)
			if err != nil {
				return fmt.Errorf("invalid --session: %w", err)
			}
			return runFlush(pid, sid)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (UUID)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (UUID)")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("session")
	return cmd
}

func runFlush(projectID, sessionID uuid.UUID) error {
	ctx := context.Background()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stores, err := pg.NewStores(ctx, cfg.Database.PostgresDSN, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer stores.Close()

	sessionLock := lock.New(redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisURL, DB: cfg.Lock.DB}))

	proj := cfg.Snapshot()
	b, err := broker.New(cfg.Broker.AMQPURL, int32(proj.SessionLockWaitSeconds*1000), proj.MaxRetries, durationSeconds(proj.RetryDelaySeconds))
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer b.Close()

	provider, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
		APIKey:       cfg.LLM.APIKey,
		APIBase:      cfg.LLM.APIBase,
		DefaultModel: cfg.LLM.Model,
	})
	if err != nil {
		return fmt.Errorf("configure llm provider: %w", err)
	}

	registry := tools.NewRegistry(stores.Tasks)
	tracer, shutdownTracing := tracing.New(tracing.Config{ServiceName: cfg.Telemetry.ServiceName})
	defer shutdownTracing(ctx)

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
			return fmt.Errorf("configure object store: %w", err)
		}
	}

	loop := agent.New(provider, registry, stores.DB, stores.Tasks, b, proj.TaskAgentMaxIterations, tracer, metrics.New())
	controller := buffer.New(b, sessionLock, stores.Messages, stores.Tasks, loop, cfg, objects)

	result := controller.FlushSession(ctx, projectID, sessionID)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
