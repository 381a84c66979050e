package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/school-sms-api/api/swagger"
	"github.com/noah-isme/school-sms-api/internal/gateway"
	"github.com/noah-isme/school-sms-api/internal/handler"
	"github.com/noah-isme/school-sms-api/internal/middleware"
	"github.com/noah-isme/school-sms-api/internal/repository"
	"github.com/noah-isme/school-sms-api/internal/service"
	"github.com/noah-isme/school-sms-api/pkg/cache"
	"github.com/noah-isme/school-sms-api/pkg/config"
	"github.com/noah-isme/school-sms-api/pkg/database"
	"github.com/noah-isme/school-sms-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/school-sms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/school-sms-api/pkg/middleware/requestid"
)

// @title School SMS API
// @version 1.0.0
// @description Student records and parent SMS notifications
// @BasePath /api
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, credit balance caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	studentRepo := repository.NewStudentRepository(db)
	smsLogRepo := repository.NewSMSLogRepository(db)

	renderer := service.NewTemplateRenderer(nil)
	resolver := service.NewRecipientResolver(studentRepo, logr)
	gatewayClient := gateway.NewClient(cfg.SMS, logr)

	dispatchSvc := service.NewDispatchService(studentRepo, smsLogRepo, gatewayClient, resolver, renderer, validate, logr).
		WithMetrics(metrics)
	if redisClient != nil {
		dispatchSvc.WithCreditCache(redisClient, cfg.SMS.CreditCacheTTL)
	}
	dispatchSvc.StartStatusWorker(context.Background(), cfg.SMS.StatusWorkers)
	defer dispatchSvc.StopStatusWorker()

	studentSvc := service.NewStudentService(studentRepo, validate, logr)

	smsHandler := handler.NewSMSHandler(dispatchSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group(cfg.APIPrefix)
	{
		students := api.Group("/students")
		students.GET("", studentHandler.List)
		students.POST("", studentHandler.Create)
		students.POST("/import", studentHandler.Import)
		students.GET("/:id", studentHandler.Get)
		students.PUT("/:id", studentHandler.Update)
		students.DELETE("/:id", studentHandler.Delete)

		sms := api.Group("/sms")
		sms.POST("/fee-notification", smsHandler.SendFeeNotification)
		sms.POST("/bulk", smsHandler.SendBulk)
		sms.GET("/history", smsHandler.History)
		sms.GET("/history/export", smsHandler.ExportHistory)
		sms.GET("/credits", smsHandler.CreditBalance)
		sms.GET("/status/:apiMessageId", smsHandler.MessageStatus)
	}

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
