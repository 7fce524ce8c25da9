package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vedran77/pulse/internal/config"
	"github.com/vedran77/pulse/internal/database"
	"github.com/vedran77/pulse/internal/identity"
	"github.com/vedran77/pulse/internal/metrics"
	"github.com/vedran77/pulse/internal/repository"
	"github.com/vedran77/pulse/internal/repository/kv"
	postgresrepo "github.com/vedran77/pulse/internal/repository/postgres"
	"github.com/vedran77/pulse/internal/service"
	"github.com/vedran77/pulse/internal/transport/http/handlers"
	"github.com/vedran77/pulse/internal/transport/ws"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server_exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	hub := ws.NewHub(m, logger)

	// Services
	convService := service.NewConversationService(st.Conversations(), st.Users(), logger)
	messageService := service.NewMessageService(st.Messages(), convService, m, logger)
	reactionService := service.NewReactionService(st.Messages(), st.Reactions(), convService)
	userService := service.NewUserService(st.Users())

	notifier := ws.NewHubNotifier(hub)
	convService.SetNotifier(notifier)
	messageService.SetNotifier(notifier)
	reactionService.SetNotifier(notifier)

	router := handlers.NewRouter(handlers.RouterConfig{
		Conversations:  convService,
		Messages:       messageService,
		Reactions:      reactionService,
		Users:          userService,
		Hub:            hub,
		Verifier:       identity.NewVerifier(cfg.JWTSecret),
		Gatherer:       prometheus.DefaultGatherer,
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		SendRatePerSec: cfg.SendRatePerSec,
		SendRateBurst:  cfg.SendRateBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server_starting", "addr", srv.Addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("server_stopping")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPebble:
		st, err := kv.Open(cfg.PebbleDir, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("store_opened", "driver", "pebble", "dir", cfg.PebbleDir)
		return st, nil
	default:
		pool, err := database.Connect(ctx, cfg.DatabaseURL())
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("store_opened", "driver", "postgres", "host", cfg.DBHost)
		return postgresrepo.NewStore(pool), nil
	}
}
