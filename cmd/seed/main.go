package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-api/internal/models"
	"github.com/noah-isme/attendance-api/internal/repository"
	"github.com/noah-isme/attendance-api/internal/service"
	"github.com/noah-isme/attendance-api/pkg/config"
	"github.com/noah-isme/attendance-api/pkg/database"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
	"github.com/noah-isme/attendance-api/pkg/logger"
)

func main() {
	force := flag.Bool("force", false, "seed even when accounts already exist")
	flag.Parse()

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
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := database.EnsureSchema(ctx, db); err != nil {
		logr.Fatal("failed to ensure schema", zap.Error(err))
	}

	userRepo := repository.NewUserRepository(db)
	existing, err := userRepo.Count(ctx)
	if err != nil {
		logr.Fatal("failed to count users", zap.Error(err))
	}
	if existing > 0 && !*force {
		logr.Fatal("database already has accounts, rerun with -force to seed anyway", zap.Int("users", existing))
	}

	validate := service.NewValidator()
	studentRepo := repository.NewStudentRepository(db)
	s := &seeder{
		students: service.NewStudentService(studentRepo, validate, logr),
		classes:  service.NewClassService(repository.NewClassRepository(db), validate, logr),
		auth: service.NewAuthService(userRepo, studentRepo, validate, logr, service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			AccessTokenExpiry: cfg.JWT.Expiration,
			Issuer:            cfg.JWT.Issuer,
		}),
		logger: logr,
	}
	summary := s.run(ctx)
	logr.Info("seed finished",
		zap.Int("students", summary.students),
		zap.Int("classes", summary.classes),
		zap.Int("users", summary.users),
		zap.Int("skipped", summary.skipped),
	)
}

type studentCreator interface {
	Create(ctx context.Context, req service.StudentRequest) (*models.Student, error)
}

type classCreator interface {
	Create(ctx context.Context, req service.ClassRequest) (*models.Class, error)
}

type accountCreator interface {
	CreateUser(ctx context.Context, actorID string, req models.CreateUserRequest) (*models.UserInfo, error)
	RegisterStudent(ctx context.Context, req models.RegisterStudentRequest, meta models.LoginRequest) (*models.LoginResponse, error)
}

type seeder struct {
	students studentCreator
	classes  classCreator
	auth     accountCreator
	logger   *zap.Logger
}

type seedSummary struct {
	students int
	classes  int
	users    int
	skipped  int
}

// run inserts the sample data. Students and accounts that already exist are skipped; classes carry no
// natural key and are inserted again on a forced rerun.
func (s *seeder) run(ctx context.Context) seedSummary {
	var summary seedSummary
	record := func(kind, key string, err error, counter *int) {
		switch {
		case err == nil:
			*counter++
		case isConflict(err):
			summary.skipped++
			s.logger.Info("seed row already present", zap.String("kind", kind), zap.String("key", key))
		default:
			summary.skipped++
			s.logger.Warn("seed row failed", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
		}
	}

	for _, req := range sampleStudents {
		_, err := s.students.Create(ctx, req)
		record("student", req.RollNumber, err, &summary.students)
	}
	for _, req := range sampleClasses {
		_, err := s.classes.Create(ctx, req)
		record("class", req.Name, err, &summary.classes)
	}
	for _, req := range sampleStaff {
		_, err := s.auth.CreateUser(ctx, "", req)
		record("user", req.Email, err, &summary.users)
	}
	for _, req := range sampleStudentAccounts {
		_, err := s.auth.RegisterStudent(ctx, req, models.LoginRequest{UserAgent: "seed"})
		record("user", req.Email, err, &summary.users)
	}
	return summary
}

func isConflict(err error) bool {
	return errors.Is(err, appErrors.ErrConflict)
}
