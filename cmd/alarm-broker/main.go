// Command alarm-broker runs the API and the job worker in a single
// process against one SQLite database — the combined deployment mode
// for small installations that don't need the API and worker split
// across separate machines.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/silentline/sentinel/internal/broker/alarm"
	"github.com/silentline/sentinel/internal/broker/api"
	"github.com/silentline/sentinel/internal/broker/bootstrap"
	"github.com/silentline/sentinel/internal/broker/channel"
	"github.com/silentline/sentinel/internal/broker/clock"
	"github.com/silentline/sentinel/internal/broker/config"
	"github.com/silentline/sentinel/internal/broker/db"
	"github.com/silentline/sentinel/internal/broker/escalation"
	"github.com/silentline/sentinel/internal/broker/kv"
	"github.com/silentline/sentinel/internal/broker/notify"
	"github.com/silentline/sentinel/internal/broker/queue"
	"github.com/silentline/sentinel/internal/broker/ratelimit"
	"github.com/silentline/sentinel/internal/broker/store"
	"github.com/silentline/sentinel/internal/broker/trigger"
	"github.com/silentline/sentinel/internal/logging"
	"github.com/silentline/sentinel/worker"
)

var version = "dev"

const (
	jobPollInterval = 2 * time.Second
	jobBatchSize    = 20
	shutdownTimeout = 10 * time.Second
)

func main() {
	logging.Setup()

	fs := flag.NewFlagSet("alarm-broker", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file (optional)")
	seedPath := fs.String("seed", "", "path to a topology seed file (YAML or JSON), applied once if the store is empty")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath, *seedPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath, seedPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	httpCfg := cfg.HTTP()
	dbCfg := cfg.DB()
	kvCfg := cfg.KV()
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Run(ctx, st, seedPath); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	kvStore := kv.New(kvCfg.Addr, kvCfg.DB)
	defer func() { _ = kvStore.Close() }()

	limiter := ratelimit.New(kvStore, httpCfg.RateLimitPerMinute)
	allowIP := trigger.AllowlistFunc(httpCfg.IPAllowlist)
	pipeline := trigger.New(kvStore, st, q, limiter, c, allowIP)

	var mock *channel.MockAdapter
	if httpCfg.SimulationMode {
		mock = channel.NewMockAdapter()
		slog.Info("simulation mode enabled: outbound notifications are mocked")
	}
	registry := channel.BuildRegistry(channelsCfg, mock)
	orchestrator := notify.New(st, registry, c)
	scheduler := escalation.New(st, q, orchestrator, registry, httpCfg.PublicBaseURL, escCfg.DefaultPolicyID)

	machine := alarm.New(st, c)
	handler := api.New(httpCfg, st, machine, pipeline, q, mock, c)
	server := &http.Server{Addr: httpCfg.Addr, Handler: handler}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx, worker.RunConfig{
			Queue:        q,
			Store:        st,
			Scheduler:    scheduler,
			Orchestrator: orchestrator,
			Registry:     registry,
			PollInterval: jobPollInterval,
			BatchSize:    jobBatchSize,
		}); err != nil {
			slog.Error("job worker stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("alarm-broker listening", "addr", httpCfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		wg.Wait()
		return err
	}
}
