package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/taskloom/internal/config"
	"github.com/nextlevelbuilder/taskloom/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check backend connectivity and schema status",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Printf("taskloom doctor (%s)\n\n", Version)

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Printf("  config load error: %s\n", err)
		return
	}

	checkPostgres(cfg)
	checkRedis(cfg)
	checkLLM(cfg)
	checkObjectStore(cfg)
}

func checkPostgres(cfg *config.Config) {
	fmt.Println("  postgres:")
	if cfg.Database.PostgresDSN == "" {
		fmt.Println("    TASKLOOM_POSTGRES_DSN not set")
		return
	}
	db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
	if err != nil {
		fmt.Printf("    connect failed: %s\n", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    ping failed: %s\n", err)
		return
	}
	fmt.Println("    connection OK")

	status, err := upgrade.CheckSchema(db)
	if err != nil {
		fmt.Printf("    schema check failed: %s\n", err)
		return
	}
	if status.Compatible {
		fmt.Printf("    schema v%d (up to date)\n", status.CurrentVersion)
	} else {
		fmt.Print("    " + upgrade.FormatError(status))
	}
}

func checkRedis(cfg *config.Config) {
	fmt.Println("  redis:")
	if cfg.Lock.RedisURL == "" {
		fmt.Println("    TASKLOOM_REDIS_URL not set")
		return
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisURL, DB: cfg.Lock.DB})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		fmt.Printf("    ping failed: %s\n", err)
		return
	}
	fmt.Println("    connection OK")
}

func checkLLM(cfg *config.Config) {
	fmt.Println("  llm:")
	if cfg.LLM.APIKey == "" {
		fmt.Println("    TASKLOOM_ANTHROPIC_API_KEY not set")
		return
	}
	fmt.Printf("    provider=%s model=%s (key present)\n", cfg.LLM.Provider, cfg.LLM.Model)
}

func checkObjectStore(cfg *config.Config) {
	fmt.Println("  object store:")
	if cfg.ObjectStore.Bucket == "" {
		fmt.Println("    no bucket configured")
		return
	}
	fmt.Printf("    bucket=%s region=%s\n", cfg.ObjectStore.Bucket, cfg.ObjectStore.Region)
}
