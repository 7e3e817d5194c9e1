package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/fanout"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/handler"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/listener"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/presence"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/service"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/messagestore"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a single gateway worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			workerID, _ := cmd.Flags().GetString("worker-id")
			return runServe(cmd.Context(), configPath, workerID)
		},
	}
	cmd.Flags().String("worker-id", "", "worker identifier recorded in presence (default random)")
	return cmd
}

func runServe(parent context.Context, configPath, workerID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if workerID != "" {
		cfg.Worker.ID = workerID
	}
	if cfg.Worker.ID == "" {
		cfg.Worker.ID = "worker-" + uuid.NewString()[:8]
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "chat-gateway",
		WorkerID:    cfg.Worker.ID,
	})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting chat-gateway worker")

	redisClient, err := presence.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("presence directory: %w", err)
	}
	dir := presence.NewRedisDirectory(redisClient, cfg.Redis)
	defer dir.Close()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("message store: %w", err)
	}
	defer database.Close(db)
	store, err := messagestore.NewGormStore(db)
	if err != nil {
		return fmt.Errorf("message store: %w", err)
	}

	ps, err := pubsub.NewPubSub(cfg.PubSub())
	if err != nil {
		return fmt.Errorf("fan-out bus: %w", err)
	}
	defer ps.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dir.StartHeartbeat(ctx); err != nil {
		return fmt.Errorf("presence heartbeat: %w", err)
	}

	h := hub.NewHub(cfg.WebSocket)
	go h.Run()

	bus := fanout.NewBus(ps, cfg.Worker.ID, fanout.Options{
		BackoffBase:    cfg.Bus.BackoffBase,
		BackoffMax:     cfg.Bus.BackoffMax,
		PublishTimeout: cfg.Bus.PublishTimeout,
	})
	gw := service.NewGateway(h, dir, store, bus, cfg.Worker.ID)
	bus.Handle(pubsub.ChannelChatMessages, gw.OnChatMessageEvent)
	bus.Handle(pubsub.ChannelPresence, gw.OnPresenceEvent)
	bus.Start(ctx)

	wsHandler := handler.NewWSHandler(h, gw, cfg.WebSocket, cfg.Worker.ID)
	pollHandler := handler.NewPollHandler(h, gw, cfg.Poll, cfg.WebSocket, cfg.Worker.ID)
	httpHandler := handler.NewHTTPHandler(dir, h, cfg.Worker.ID, map[string]handler.Checker{
		"directory": dir.Ping,
		"bus":       bus.Ping,
	})

	router := mux.NewRouter()
	wsHandler.RegisterRoutes(router)
	pollHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	go pollHandler.RunReaper(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	ln, err := listener.Listen(ctx, addr, cfg.Server.ReusePort)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      pkglog.HTTPMiddleware(logger, "/health")(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Poll.Wait + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Bool("reuse_port", cfg.Server.ReusePort).Msg("chat-gateway listening")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	logger.Info().Msg("shutting down chat-gateway worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	gw.Shutdown(shutdownCtx) // 1. disconnect frames + presence cleanup
	bus.Stop()               // 2. stop fan-out subscriptions
	h.Stop()                 // 3. close outbound queues
	dir.StopHeartbeat()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	logger.Info().Msg("chat-gateway worker stopped")
	return nil
}
