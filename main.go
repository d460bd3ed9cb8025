package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"message-sync/internal/config"
	"message-sync/internal/handlers"
	"message-sync/internal/middleware"
	"message-sync/internal/observability"
	"message-sync/internal/rabbitmq"
	"message-sync/internal/session"
	"message-sync/internal/store"
	"message-sync/internal/syncer"
	"message-sync/internal/telemetry"
	"message-sync/internal/ws"
)

const serviceName = "message-sync"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.OTLPEndpoint, serviceName, cfg.Telemetry.Environment)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, "sync.audit", serviceName, cfg.Telemetry.Environment, logger)

	sess := session.NewStatic(cfg.Upstream.Token, cfg.Upstream.UserID)
	backend := store.NewClient(cfg.Upstream.RESTURL, sess, logger)
	hub := ws.NewHub(sess, logger)

	core, err := syncer.New(cfg, backend, sess, hub, audit, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble sync core")
	}
	hub.SetSnapshotFunc(core.Snapshot)

	if err := core.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start sync core")
	}
	defer core.Close()

	if level > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	syncHandler := handlers.NewSyncHandler(core)

	router.GET("/healthz", syncHandler.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/feed", hub.HandleFeed)

	auth := middleware.RequireSession(sess)
	api := router.Group("/", auth)
	api.GET("/conversations", syncHandler.ListConversations)
	api.POST("/conversations/:conversation_id/select", syncHandler.SelectConversation)
	api.GET("/conversations/:conversation_id/messages", syncHandler.GetMessages)
	api.POST("/conversations/:conversation_id/messages", syncHandler.PostMessage)
	api.POST("/conversations/:conversation_id/attachments", syncHandler.PostAttachment)
	api.POST("/conversations/:conversation_id/typing", syncHandler.Typing)
	api.DELETE("/conversations/:conversation_id/messages/:message_id", syncHandler.DeleteMessage)
	api.DELETE("/conversations/:conversation_id", syncHandler.DeleteConversation)
	api.GET("/state", syncHandler.GetState)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("sync api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown failed")
	}
}
