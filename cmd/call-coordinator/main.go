// Package main is the entry point for the call coordinator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ihiteshgupta/call-coordinator/internal/config"
	"github.com/ihiteshgupta/call-coordinator/internal/coordinator"
	"github.com/ihiteshgupta/call-coordinator/internal/health"
	"github.com/ihiteshgupta/call-coordinator/internal/httpapi"
	"github.com/ihiteshgupta/call-coordinator/internal/media"
	"github.com/ihiteshgupta/call-coordinator/internal/presence"
	"github.com/ihiteshgupta/call-coordinator/internal/relay"
	"github.com/ihiteshgupta/call-coordinator/internal/store"
	"github.com/ihiteshgupta/call-coordinator/internal/wake"
	"github.com/ihiteshgupta/call-coordinator/pkg/api"
	"github.com/ihiteshgupta/call-coordinator/pkg/logger"
	"github.com/ihiteshgupta/call-coordinator/pkg/mcp"
)

const (
	wakePollTimeout = 5 * time.Second
	shutdownTimeout = 10 * time.Second
	notifyQueueSize = 32
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	userID     = flag.String("user", "", "Signed-in user id (overrides config)")
	daemon     = flag.Bool("daemon", false, "Keep running after the MCP client disconnects")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *userID != "" {
		cfg.UserID = *userID
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the MCP stream, so logs go to stderr.
	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(log)

	log.Info("Call coordinator starting",
		"config", *configPath,
		"user_id", cfg.UserID,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Call coordinator failed", "error", err)
		os.Exit(1)
	}
	log.Info("Call coordinator stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	local, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer local.Close()

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb, err = relay.OpenRedis(ctx, relay.RedisConfig{Addr: cfg.RedisAddr})
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	deps := coordinator.Deps{
		Records: local.Records,
		Signals: local.Signals,
		Pending: local.Pending,
		History: local.State,
		Alerter: wake.NewLogAlerter(),
	}

	if cfg.RecordBackend == config.BackendPostgres {
		pg, err := store.NewPostgresRecordRepo(ctx, cfg.PostgresDSN, store.PostgresPoolConfig{})
		if err != nil {
			return err
		}
		defer pg.Close()
		deps.Records = pg
	}

	if cfg.RelayBackend == config.BackendRedis {
		deps.Signals = relay.NewRedisRelay(rdb, cfg.ResubscribeBaseDelay, cfg.ResubscribeMaxDelay)
	}

	var tracker presence.Tracker = presence.NewMemory(cfg.PresenceTTL)
	if cfg.PresenceBackend == config.BackendRedis {
		tracker = presence.NewRedis(rdb, cfg.PresenceTTL)
	}
	deps.Presence = tracker

	var redisPusher *wake.RedisPusher
	if cfg.PushBackend == config.BackendRedis {
		redisPusher = wake.NewRedisPusher(rdb)
		deps.Pusher = redisPusher
	} else {
		deps.Pusher = wake.NewLogPusher()
	}

	engine := media.NewHeadless()
	telephony := wake.NewHeadlessTelephony()
	deps.Media = engine
	deps.Telephony = telephony

	coord, err := coordinator.New(coordinator.OptionsFromConfig(cfg), deps)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	hm := health.NewMonitor(coord)
	hm.Start()

	coord.Start()
	defer coord.Stop()

	go presence.RunHeartbeat(ctx, tracker, cfg.UserID, cfg.HeartbeatInterval)

	wakeBridge := wake.NewBridge(local.Pending, telephony)
	if redisPusher != nil {
		wakeBridge.SkipWhile(coord.Running)
		go wakeBridge.Run(ctx, redisPusher, cfg.UserID, wakePollTimeout)
	}

	var srv *http.Server
	if cfg.HTTPEnabled {
		hub := httpapi.NewHub()
		coord.OnStateChange(hub.Publish)

		srv = &http.Server{
			Addr:              net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort)),
			Handler:           httpapi.NewRouter(httpapi.Handlers{Calls: coord, Health: hm, Stream: hub}, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("HTTP API listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server error", "error", err)
			}
		}()
	}

	mcpDone := make(chan error, 1)
	if cfg.MCPEnabled {
		handler := api.NewHandler(coord, hm, api.Platform{
			Wake:      wakeBridge,
			Telephony: telephony,
			Media:     engine,
		})
		mcpServer := mcp.NewServer(os.Stdin, os.Stdout, handler, log)
		forwardStateChanges(ctx, coord, mcpServer, log)

		go func() {
			mcpDone <- mcpServer.Run(ctx)
		}()
	}

	// The process starting is the app coming to the foreground.
	if err := coord.Activate(ctx); err != nil {
		log.Warn("Initial activation failed", "error", err)
	}

	log.Info("Coordinator initialized",
		"store_path", cfg.StorePath,
		"record_backend", cfg.RecordBackend,
		"relay_backend", cfg.RelayBackend,
		"phase", coord.Phase(),
	)

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case err := <-mcpDone:
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
			log.Error("MCP server error", "error", err)
		}
		if *daemon || cfg.HTTPEnabled {
			log.Info("MCP client disconnected, staying alive until signalled")
			<-ctx.Done()
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown failed", "error", err)
		}
	}
	return nil
}

// forwardStateChanges pushes call state to the MCP client. Listeners run on
// the coordinator loop, so updates are queued and dropped when the client
// falls behind.
func forwardStateChanges(ctx context.Context, coord *coordinator.Coordinator, server *mcp.Server, log *slog.Logger) {
	updates := make(chan coordinator.CallState, notifyQueueSize)
	coord.OnStateChange(func(s coordinator.CallState) {
		select {
		case updates <- s:
		default:
			log.Warn("Dropping call state notification", "phase", s.Phase)
		}
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-updates:
				if err := server.Notify(mcp.NotificationCallState, s); err != nil {
					log.Warn("Failed to send call state notification", "error", err)
				}
			}
		}
	}()
}
