package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/noah-isme/attendance-api/api/swagger"
	"github.com/noah-isme/attendance-api/internal/handler"
	"github.com/noah-isme/attendance-api/internal/repository"
	"github.com/noah-isme/attendance-api/internal/router"
	"github.com/noah-isme/attendance-api/internal/service"
	"github.com/noah-isme/attendance-api/pkg/cache"
	"github.com/noah-isme/attendance-api/pkg/config"
	"github.com/noah-isme/attendance-api/pkg/database"
	"github.com/noah-isme/attendance-api/pkg/logger"
)

// @title Student Attendance API
// @version 1.0.0
// @description REST API for managing students, classes and attendance records.
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := database.EnsureSchema(ctx, db)
		cancel()
		if err != nil {
			logr.Fatal("failed to ensure schema", zap.Error(err))
		}
	}

	metrics := service.NewMetricsService()
	checks := map[string]handler.Pinger{"database": db}

	var statsCache *service.CacheService
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, statistics cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			cacheRepo := repository.NewCacheRepository(client)
			statsCache = service.NewCacheService(cacheRepo, metrics, cfg.Cache.StatsTTL, logr, true)
			checks["redis"] = handler.PingerFunc(cacheRepo.Ping)
		}
	}

	validate := service.NewValidator()

	studentRepo := repository.NewStudentRepository(db)
	classRepo := repository.NewClassRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	userRepo := repository.NewUserRepository(db)

	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	classSvc := service.NewClassService(classRepo, validate, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, studentRepo, classRepo, validate, logr, service.AttendanceServiceConfig{
		Cache:        statsCache,
		Metrics:      metrics,
		BulkMaxItems: cfg.Attendance.BulkMaxItems,
	})
	authSvc := service.NewAuthService(userRepo, studentRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	importSvc := service.NewImportService(studentRepo, validate, metrics, logr, cfg.Import.MaxRows)
	exportSvc := service.NewExportService(studentSvc, attendanceSvc, metrics, logr)

	handlers := router.Handlers{
		Auth:        handler.NewAuthHandler(authSvc),
		StudentAuth: handler.NewStudentAuthHandler(authSvc),
		Student: handler.NewStudentHandler(studentSvc, attendanceSvc, importSvc, exportSvc, handler.UploadConfig{
			MaxFileSize:  cfg.Import.MaxFileSizeBytes,
			AllowedMIMEs: cfg.Import.AllowedMIMEs,
		}),
		Class:      handler.NewClassHandler(classSvc),
		Attendance: handler.NewAttendanceHandler(attendanceSvc, exportSvc),
		Metrics:    handler.NewMetricsHandler(metrics, checks, logr),
	}

	r := router.New(router.Options{
		Env:            cfg.Env,
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AuthPerMinute:  cfg.RateLimit.AuthPerMinute,
		Tokens:         authSvc,
		Audit:          userRepo,
		Metrics:        metrics,
		Logger:         logr,
	}, handlers)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "cache", statsCache.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
