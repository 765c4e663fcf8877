// Command alarm-api runs the device-facing trigger/ack endpoints and
// the operator REST API. It owns the database and is responsible for
// running migrations and topology bootstrap on first start; the
// escalation/notification job queue is drained by the separate
// alarm-worker process (or by alarm-broker in combined mode).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/silentline/sentinel/internal/broker/alarm"
	"github.com/silentline/sentinel/internal/broker/api"
	"github.com/silentline/sentinel/internal/broker/bootstrap"
	"github.com/silentline/sentinel/internal/broker/channel"
	"github.com/silentline/sentinel/internal/broker/clock"
	"github.com/silentline/sentinel/internal/broker/config"
	"github.com/silentline/sentinel/internal/broker/db"
	"github.com/silentline/sentinel/internal/broker/kv"
	"github.com/silentline/sentinel/internal/broker/queue"
	"github.com/silentline/sentinel/internal/broker/ratelimit"
	"github.com/silentline/sentinel/internal/broker/store"
	"github.com/silentline/sentinel/internal/broker/trigger"
	"github.com/silentline/sentinel/internal/logging"
)

var version = "dev"

func main() {
	logging.Setup()

	fs := flag.NewFlagSet("alarm-api", flag.ExitOnError)
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

	machine := alarm.New(st, c)
	handler := api.New(httpCfg, st, machine, pipeline, q, mock, c)

	server := &http.Server{Addr: httpCfg.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("alarm-api listening", "addr", httpCfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

const shutdownTimeout = 10 * time.Second
