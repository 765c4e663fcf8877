// Command alarm-worker drains the job queue: immediate and deferred
// escalation steps, ack follow-ups, and state-change bookkeeping. It
// shares the same SQLite database file as alarm-api but never serves
// HTTP and never runs bootstrap.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/silentline/sentinel/internal/broker/channel"
	"github.com/silentline/sentinel/internal/broker/clock"
	"github.com/silentline/sentinel/internal/broker/config"
	"github.com/silentline/sentinel/internal/broker/db"
	"github.com/silentline/sentinel/internal/broker/escalation"
	"github.com/silentline/sentinel/internal/broker/notify"
	"github.com/silentline/sentinel/internal/broker/queue"
	"github.com/silentline/sentinel/internal/broker/store"
	"github.com/silentline/sentinel/internal/logging"
	"github.com/silentline/sentinel/worker"
)

var version = "dev"

func main() {
	logging.Setup()

	fs := flag.NewFlagSet("alarm-worker", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file (optional)")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dbCfg := cfg.DB()
	httpCfg := cfg.HTTP()
	channelsCfg := cfg.Channels()
	escCfg := cfg.Escalation()

	sqlDB, err := db.Open(dbCfg.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := db.Migrate(sqlDB); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	st := store.New(sqlDB)
	c := clock.Real{}
	q := queue.New(sqlDB, c)

	var mock *channel.MockAdapter
	if httpCfg.SimulationMode {
		mock = channel.NewMockAdapter()
	}
	registry := channel.BuildRegistry(channelsCfg, mock)
	orchestrator := notify.New(st, registry, c)
	scheduler := escalation.New(st, q, orchestrator, registry, httpCfg.PublicBaseURL, escCfg.DefaultPolicyID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("alarm-worker started", "db", dbCfg.Path)

	return worker.Run(ctx, worker.RunConfig{
		Queue:        q,
		Store:        st,
		Scheduler:    scheduler,
		Orchestrator: orchestrator,
		Registry:     registry,
		PollInterval: pollInterval,
		BatchSize:    batchSize,
	})
}

const (
	pollInterval = 2 * time.Second
	batchSize    = 20
)
