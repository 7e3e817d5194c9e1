package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-chat/chat-history/internal/cache"
	"github.com/weiawesome/wes-io-chat/chat-history/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-history/internal/handler"
	"github.com/weiawesome/wes-io-chat/chat-history/internal/service"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/messagestore"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

// Version info set via ldflags at build time.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chat-history",
		Short:   "Chat history REST API",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().String("config", "", "path to config file (default ./config/config.yaml)")
	return cmd
}

func run(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "chat-history",
	})
	logger := pkglog.L()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("message store: %w", err)
	}
	defer database.Close(db)
	store, err := messagestore.NewGormStore(db)
	if err != nil {
		return fmt.Errorf("message store: %w", err)
	}

	checks := map[string]handler.Checker{
		"store": func(ctx context.Context) error { return database.Ping(ctx, db) },
	}

	var msgCache cache.MessageCache
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisMessageCache(cfg.Redis, cfg.Cache.Prefix)
		if err != nil {
			return fmt.Errorf("history cache: %w", err)
		}
		defer redisCache.Close()
		msgCache = redisCache
		checks["cache"] = redisCache.Ping
	}

	var publisher pubsub.Publisher
	if cfg.Bus.Enabled {
		ps, err := pubsub.NewPubSub(cfg.PubSub())
		if err != nil {
			return fmt.Errorf("fan-out bus: %w", err)
		}
		defer ps.Close()
		publisher = ps
		checks["bus"] = ps.Ping
	}

	chatHistoryService := service.NewChatHistoryService(store, msgCache, cfg.Cache.TTL, publisher)
	httpHandler := handler.NewHTTPHandler(chatHistoryService, store, checks)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(logger))

	httpHandler.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("starting chat-history")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
	}

	logger.Info().Msg("shutting down chat-history")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("chat-history stopped")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
