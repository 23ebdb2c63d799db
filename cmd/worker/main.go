// Package main runs the exqgo worker process: the Manager dispatch loop,
// its worker pool, and (unless disabled) the cron/delayed-promotion
// scheduler, all wired to one Redis connection.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sideport/exqgo/internal/config"
	"github.com/sideport/exqgo/internal/logger"
	"github.com/sideport/exqgo/internal/manager"
	"github.com/sideport/exqgo/internal/queue"
	"github.com/sideport/exqgo/internal/result"
	"github.com/sideport/exqgo/internal/scheduler"
	"github.com/sideport/exqgo/internal/stats"
	"github.com/sideport/exqgo/internal/worker"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	mgrCfg, err := config.LoadManagerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load manager config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	workerLog := log.WithComponent(logger.ComponentWorker).WithSource(logger.LogSourceInternal)

	workerLog.Info("worker starting",
		"host", mgrCfg.Host,
		"queues", mgrCfg.Queues,
		"concurrency", mgrCfg.Concurrency,
		"namespace", cfg.Namespace,
		"redis_addr", cfg.RedisAddr())
	workerLog.Info("manager configuration details", "config", mgrCfg.String())

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6061"
	}
	go func() {
		workerLog.Info("starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		server := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			workerLog.Error("pprof server failed", "error", err)
		}
	}()

	redisClient, err := connectWithRetry(cfg, 10, workerLog)
	if err != nil {
		workerLog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	q := queue.New(redisClient, cfg.Namespace)
	st := stats.New(redisClient, cfg.Namespace)

	var resultBackend result.Backend
	if mgrCfg.ResultBackendEnabled {
		resultBackend = result.NewRedisBackend(redisClient, cfg.Namespace, mgrCfg.ResultTTLSuccess, mgrCfg.ResultTTLFailure)
		workerLog.Info("result backend enabled",
			"success_ttl", mgrCfg.ResultTTLSuccess,
			"failure_ttl", mgrCfg.ResultTTLFailure)
	}

	registry := worker.NewRegistry()

	// TODO: replace example handlers with real job classes.
	registry.Register("count_items", worker.HandleCountItems)
	registry.Register("send_email", worker.HandleSendEmail)
	registry.Register("process_data", worker.HandleProcessData)
	workerLog.Info("registered job handlers", "count", registry.Count())

	mgr := manager.New(redisClient, q, st, registry, resultBackend, log, manager.Config{
		Host:        mgrCfg.Host,
		Queues:      mgrCfg.Queues,
		Concurrency: mgrCfg.Concurrency,
		PollTimeout: mgrCfg.PollTimeout,
		JobTimeout:  mgrCfg.JobTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cronScheduler *scheduler.CronScheduler
	if mgrCfg.SchedulerEnabled {
		cronRegistry := scheduler.NewRegistry()
		cronScheduler = scheduler.NewCronScheduler(cronRegistry, q, redisClient, cfg.Namespace, mgrCfg.SchedulerInterval, log)
		go cronScheduler.Start(ctx)
		workerLog.Info("scheduler enabled", "interval", mgrCfg.SchedulerInterval)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	mgr.Start(ctx)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			workerLog.Info("received SIGHUP, rotating log file")
			if err := log.Rotate(); err != nil {
				workerLog.Error("failed to rotate log file", "error", err)
			}
			continue
		}

		workerLog.Info("received shutdown signal, initiating graceful shutdown", "signal", sig)
		break
	}

	cancel()
	mgr.Stop()

	workerLog.Info("worker shut down successfully")
}

func connectWithRetry(cfg *config.Config, maxRetries int, log logger.Logger) (*redis.Client, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Password,
			DB:       cfg.Database,
		})

		if err := client.Ping(context.Background()).Err(); err == nil {
			return client, nil
		} else {
			lastErr = err
			_ = client.Close()
		}

		// #nosec G115 - attempt is bounded by maxRetries parameter, overflow not possible
		delay := time.Duration(1<<uint(attempt)) * time.Second
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		log.Warn("failed to connect to redis, retrying",
			"attempt", attempt+1,
			"max_attempts", maxRetries,
			"error", lastErr,
			"retry_in", delay)

		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries, lastErr)
}
