package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/buddychat/buddychat-api/internal/config"
	"github.com/buddychat/buddychat-api/internal/database"
	"github.com/buddychat/buddychat-api/internal/handler"
	"github.com/buddychat/buddychat-api/internal/middleware"
	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/internal/realtime"
	"github.com/buddychat/buddychat-api/internal/repository"
	"github.com/buddychat/buddychat-api/internal/router"
	"github.com/buddychat/buddychat-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Message{},
		&models.Notification{},
		&models.Chat{},
		&models.ChatMessage{},
		&models.UserGroup{},
		&models.GroupMember{},
		&models.GroupMemberCopy{},
		&models.GroupMessage{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NatsURL)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	hub := realtime.NewHub(logger)
	publisher := realtime.NewBridgePublisher(hub, redisClient, cfg.EventChannel, natsConn, logger)

	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()
	publisher.Start(bridgeCtx)

	messageRepo := repository.NewMessageRepository(db)
	chatRepo := repository.NewChatRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	messageService := service.NewMessageService(messageRepo, logger)
	chatService := service.NewChatService(chatRepo, messageService, publisher, validate, logger)
	groupService := service.NewGroupService(groupRepo, messageService, publisher, validate, logger)
	notificationService := service.NewNotificationService(notificationRepo, redisClient, cfg.UnreadCacheTTL, logger)

	chatHandler := handler.NewChatHandler(chatService, logger)
	groupHandler := handler.NewGroupHandler(groupService, logger)
	notificationHandler := handler.NewNotificationHandler(notificationService, logger)
	realtimeHandler := handler.NewRealtimeHandler(hub, cfg.JWTSecret, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:         chatHandler,
		GroupHandler:        groupHandler,
		NotificationHandler: notificationHandler,
		RealtimeHandler:     realtimeHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
