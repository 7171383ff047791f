package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/sendrelay/internal/api"
	"github.com/ignite/sendrelay/internal/config"
	"github.com/ignite/sendrelay/internal/counters"
	"github.com/ignite/sendrelay/internal/crypto"
	"github.com/ignite/sendrelay/internal/ingest"
	"github.com/ignite/sendrelay/internal/lifecycle"
	"github.com/ignite/sendrelay/internal/orchestrator"
	"github.com/ignite/sendrelay/internal/pkg/distlock"
	"github.com/ignite/sendrelay/internal/pkg/logger"
	"github.com/ignite/sendrelay/internal/store"
	"github.com/ignite/sendrelay/internal/tracking"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err, "path", *configPath)
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.Logging.Level), "server")
	if cfg.Logging.RedactPII != nil {
		log.SetRedactPII(*cfg.Logging.RedactPII)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	pingCancel()

	// Redis is optional: without it the daily counters become no-ops.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		} else {
			redisClient = redis.NewClient(opts)
		}
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis connection failed, counters disabled", "error", err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Info("redis connected")
			defer redisClient.Close()
		}
		pingCancel()
	}

	cipher, err := crypto.New(cfg.Security.EncryptionKey)
	if err != nil {
		log.Error("invalid credential encryption key", "error", err)
		os.Exit(1)
	}

	st := store.New(db)
	ctrs := counters.New(redisClient)
	machine := lifecycle.NewMachine(st, log)
	instrumenter := tracking.NewInstrumenter(cfg.Tracking.BaseURL)
	orch := orchestrator.New(st, instrumenter, orchestrator.IntervalPacer{Interval: cfg.Sending.BulkInterval()}, ctrs, log)
	orch.SetLockFactory(distlock.NewFactory(redisClient, db, 10*time.Minute))
	gateway := ingest.NewGateway(machine, st, ctrs, log, nil)

	server := api.NewServer(api.Deps{
		Config:     cfg.Server,
		Store:      st,
		Orch:       orch,
		Machine:    machine,
		Gateway:    gateway,
		Counters:   ctrs,
		NewAdapter: api.SESAdapterFactory(st, cipher, log),
		Cipher:     cipher,
		Log:        log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr())
		errCh <- server.ListenAndServe(cfg.Server.Addr())
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("server failed", "error", err)
		os.Exit(1)
	case sig := <-done:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
