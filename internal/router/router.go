package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-api/internal/authz"
	"github.com/noah-isme/attendance-api/internal/handler"
	"github.com/noah-isme/attendance-api/internal/middleware"
	"github.com/noah-isme/attendance-api/internal/models"
	"github.com/noah-isme/attendance-api/internal/service"
	"github.com/noah-isme/attendance-api/pkg/config"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
	"github.com/noah-isme/attendance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/attendance-api/pkg/middleware/cors"
	ratelimitmiddleware "github.com/noah-isme/attendance-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/attendance-api/pkg/middleware/requestid"
	"github.com/noah-isme/attendance-api/pkg/response"
)

// Handlers groups the HTTP handlers mounted by the router.
type Handlers struct {
	Auth        *handler.AuthHandler
	StudentAuth *handler.StudentAuthHandler
	Student     *handler.StudentHandler
	Class       *handler.ClassHandler
	Attendance  *handler.AttendanceHandler
	Metrics     *handler.MetricsHandler
}

// Options configures cross-cutting behaviour of the router.
type Options struct {
	Env            string
	APIPrefix      string
	AllowedOrigins []string
	AuthPerMinute  int
	Policy         authz.Policy
	Tokens         middleware.TokenValidator
	Audit          middleware.AuditWriter
	Metrics        *service.MetricsService
	Logger         *zap.Logger
}

// New builds the gin engine serving the attendance API.
func New(opts Options, h Handlers) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Policy == nil {
		opts.Policy = authz.DefaultPolicy
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	r.Use(middleware.Metrics(opts.Metrics))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if opts.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.NoRoute(func(c *gin.Context) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "route not found"))
	})

	api := r.Group(opts.APIPrefix)
	limiter := ratelimitmiddleware.NewTokenBucket(opts.AuthPerMinute, opts.AuthPerMinute)
	authenticated := middleware.JWT(opts.Tokens)
	can := func(op authz.Operation) gin.HandlerFunc {
		return middleware.RequirePermission(opts.Policy, op)
	}
	audit := func(resource string, action ...string) gin.HandlerFunc {
		return middleware.Audit(opts.Audit, opts.Logger, resource, action...)
	}

	auth := api.Group("/auth")
	auth.POST("/login", limiter.Middleware(), h.Auth.Login)
	auth.GET("/me", authenticated, h.Auth.Me)
	auth.POST("/change-password", authenticated, h.Auth.ChangePassword)
	auth.POST("/users", authenticated, can(authz.UserManage), h.Auth.CreateUser)

	studentAuth := api.Group("/student-auth")
	studentAuth.POST("/register", limiter.Middleware(), h.StudentAuth.Register)
	studentAuth.POST("/login", limiter.Middleware(), h.StudentAuth.Login)

	students := api.Group("/students", authenticated)
	students.GET("", can(authz.StudentRead), h.Student.List)
	students.GET("/export/csv", can(authz.StudentRead), h.Student.Export)
	students.POST("/import/csv", can(authz.StudentWrite), audit("student", models.AuditActionImport), h.Student.Import)
	students.GET("/:id", can(authz.StudentRead), h.Student.Get)
	students.GET("/:id/attendance", can(authz.StudentRead), h.Student.Attendance)
	students.POST("", can(authz.StudentWrite), audit("student"), h.Student.Create)
	students.PUT("/:id", can(authz.StudentWrite), audit("student"), h.Student.Update)
	students.DELETE("/:id", can(authz.StudentWrite), audit("student"), h.Student.Delete)

	classes := api.Group("/classes", authenticated)
	classes.GET("", can(authz.ClassRead), h.Class.List)
	classes.GET("/:id", can(authz.ClassRead), h.Class.Get)
	classes.POST("", can(authz.ClassWrite), audit("class"), h.Class.Create)
	classes.PUT("/:id", can(authz.ClassWrite), audit("class"), h.Class.Update)
	classes.DELETE("/:id", can(authz.ClassWrite), audit("class"), h.Class.Delete)

	attendance := api.Group("/attendance", authenticated)
	attendance.GET("", can(authz.AttendanceRead), h.Attendance.List)
	attendance.GET("/stats/overview", can(authz.AttendanceRead), h.Attendance.Stats)
	attendance.GET("/export/csv", can(authz.AttendanceRead), h.Attendance.Export)
	attendance.GET("/:id", can(authz.AttendanceRead), h.Attendance.Get)
	attendance.POST("", can(authz.AttendanceWrite), audit("attendance"), h.Attendance.Mark)
	attendance.POST("/bulk", can(authz.AttendanceWrite), audit("attendance", models.AuditActionBulkMark), h.Attendance.BulkMark)
	attendance.PUT("/:id", can(authz.AttendanceWrite), audit("attendance"), h.Attendance.Update)
	attendance.DELETE("/:id", can(authz.AttendanceWrite), audit("attendance"), h.Attendance.Delete)

	return r
}
