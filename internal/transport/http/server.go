package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"tyana/internal/ai"
	appsvc "tyana/internal/app"
	"tyana/internal/bootstrap"
	"tyana/internal/cache"
	"tyana/internal/platform/rabbitmq"
	"tyana/internal/repository"
	"tyana/internal/transport/http/handler"
	"tyana/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) (*gin.Engine, error) {
	cfg := app.Config
	gin.SetMode(cfg.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestID(app.Logger), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	gateway, err := ai.NewGateway(cfg.LLM, app.Logger)
	if err != nil {
		return nil, err
	}

	userRepo := repository.NewUserRepository(app.DB)
	messageRepo := repository.NewChatMessageRepository(app.DB)
	usageRepo := repository.NewUsageRepository(app.DB)
	subscriptionRepo := repository.NewSubscriptionRepository(app.DB)

	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	limiter := cache.NewRateLimiter(app.Redis, cfg.Quota.RequestsPerMinute, time.Minute)

	authService := appsvc.NewAuthService(
		userRepo,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
	)
	historyService := appsvc.NewHistoryService(messageRepo, historyCache, app.Logger)
	completionService := appsvc.NewCompletionService(
		gateway,
		limiter,
		usageRepo,
		subscriptionRepo,
		rabbitmq.NewUsagePublisher(app.MQConn, cfg.RabbitMQ.UsageQueue),
		appsvc.CompletionConfig{
			SystemPrompt:        cfg.LLM.SystemPrompt,
			MaxContext:          cfg.Chat.MaxContextMessage,
			FreeMonthlyMessages: cfg.Quota.FreeMonthlyMessages,
		},
		app.Logger,
	)

	authHandler := handler.NewAuthHandler(authService)
	historyHandler := handler.NewHistoryHandler(historyService, cfg.Chat.HistoryLimit)
	completionHandler := handler.NewCompletionHandler(completionService, app.Logger)
	requireAuth := middleware.AuthJWT(cfg.Auth.JWTSecret)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", requireAuth, authHandler.Me)
	authGroup.PUT("/language", requireAuth, authHandler.SetLanguage)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(requireAuth)
	chatGroup.GET("/history", historyHandler.List)
	chatGroup.POST("/history", historyHandler.Append)
	chatGroup.DELETE("/history", historyHandler.Clear)
	chatGroup.POST("/completions", completionHandler.Create)

	return router, nil
}
