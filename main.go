package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"messenger-service/internal/auth"
	"messenger-service/internal/chat"
	"messenger-service/internal/config"
	"messenger-service/internal/crypto"
	"messenger-service/internal/db"
	"messenger-service/internal/handlers"
	"messenger-service/internal/logger"
	"messenger-service/internal/middleware"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
	"messenger-service/internal/ws"
)

const serviceName = "messenger-service"

func main() {
	cfg := config.Load()
	if err := logger.Init(cfg.GinMode); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zap.L().Sync()

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		zap.L().Fatal("failed to init tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	if cfg.AMQPURL != "" {
		publisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			zap.L().Warn("amqp unavailable, events disabled", zap.Error(err))
		} else {
			observability.SetPublisher(publisher)
			defer publisher.Close()
		}
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		zap.L().Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	cipher, err := crypto.New(cfg.MessageKey)
	if err != nil {
		zap.L().Fatal("failed to init cipher", zap.Error(err))
	}
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)

	userRepo := repositories.NewUserRepo(database)
	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	service := chat.NewService(chatRepo, messageRepo, userRepo, cipher)

	registry := presence.NewInMemoryRegistry()
	hub := ws.NewHub(registry)
	relay := ws.NewCallRelay(registry)
	dispatcher := ws.NewDispatcher(hub, relay, verifier, service)

	chatHandler := handlers.NewChatHandler(service, hub)
	messageHandler := handlers.NewMessageHandler(service, hub)
	userHandler := handlers.NewUserHandler(service, registry, hub)

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	authMiddleware := middleware.Auth(verifier)

	api := router.Group("/", authMiddleware)
	{
		api.GET("/chats", chatHandler.ListChats)
		api.POST("/chats/direct", chatHandler.StartDirectChat)
		api.POST("/chats/group", chatHandler.CreateGroupChat)
		api.GET("/chats/:chat_id", chatHandler.GetChat)
		api.DELETE("/chats/:chat_id", chatHandler.DeleteChat)
		api.PUT("/chats/:chat_id/name", chatHandler.RenameGroup)
		api.GET("/chats/:chat_id/participants", chatHandler.Participants)
		api.POST("/chats/:chat_id/participants", chatHandler.AddParticipants)
		api.DELETE("/chats/:chat_id/participants/:user_id", chatHandler.RemoveParticipant)
		api.POST("/chats/:chat_id/leave", chatHandler.LeaveChat)
		api.POST("/chats/:chat_id/read", chatHandler.MarkChatRead)

		api.GET("/chats/:chat_id/messages", messageHandler.ListMessages)
		api.POST("/chats/:chat_id/messages", messageHandler.PostMessage)
		api.PUT("/messages/:message_id", messageHandler.EditMessage)
		api.DELETE("/messages/:message_id/all", messageHandler.DeleteForEveryone)
		api.DELETE("/messages/:message_id/me", messageHandler.DeleteForMe)
		api.PUT("/messages/:message_id/reaction", messageHandler.SetReaction)
		api.DELETE("/messages/:message_id/reaction", messageHandler.RemoveReaction)

		api.GET("/users/online", userHandler.OnlineUsers)
		api.GET("/users/:user_id", userHandler.GetUser)
		api.PUT("/users/me/status", userHandler.UpdateStatus)
	}

	// Token verification happens inside the handler, before the upgrade.
	router.GET("/ws", dispatcher.Handle)

	zap.L().Info("starting server", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		zap.L().Fatal("server error", zap.Error(err))
	}
}
