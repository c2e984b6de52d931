package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-api/internal/models"
	"github.com/noah-isme/attendance-api/pkg/database"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
)

const (
	msgStudentNotFound  = "student not found"
	msgStudentDuplicate = "student with this roll number or email already exists"
	msgStudentInUse     = "cannot delete student with existing attendance records"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByRollNumberOrEmail(ctx context.Context, rollNumber, email string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
}

// StudentRequest holds payload for creating and updating students.
type StudentRequest struct {
	Name       string `json:"name" validate:"required,min=2"`
	RollNumber string `json:"rollNumber" validate:"required"`
	Class      string `json:"class" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
}

func (r *StudentRequest) normalise() {
	r.Name = strings.TrimSpace(r.Name)
	r.RollNumber = strings.TrimSpace(r.RollNumber)
	r.Class = strings.TrimSpace(r.Class)
	r.Email = normaliseEmail(r.Email)
}

// StudentService handles student use-cases.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: ensureValidator(validate), logger: logger}
}

// List returns students matching the filter and the total match count.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Internal(err, "failed to list students")
	}
	return students, total, nil
}

// Get returns a student by id.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	if !validID(id) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, msgStudentNotFound)
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, msgStudentNotFound)
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	return student, nil
}

// Create stores a new student. Duplicate roll numbers or emails are rejected by the store.
func (s *StudentService) Create(ctx context.Context, req StudentRequest) (*models.Student, error) {
	req.normalise()
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	student := &models.Student{Name: req.Name, RollNumber: req.RollNumber, Class: req.Class, Email: req.Email}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, classifyStudentWrite(err, "failed to create student")
	}
	return student, nil
}

// Update overwrites a student's fields.
func (s *StudentService) Update(ctx context.Context, id string, req StudentRequest) (*models.Student, error) {
	req.normalise()
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Name = req.Name
	existing.RollNumber = req.RollNumber
	existing.Class = req.Class
	existing.Email = req.Email
	if err := s.repo.Update(ctx, existing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, msgStudentNotFound)
		}
		return nil, classifyStudentWrite(err, "failed to update student")
	}
	return existing, nil
}

// Delete removes a student that has no attendance records.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return appErrors.Clone(appErrors.ErrNotFound, msgStudentNotFound)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, msgStudentNotFound)
		case database.IsForeignKeyViolation(err):
			return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, msgStudentInUse)
		default:
			return appErrors.Internal(err, "failed to delete student")
		}
	}
	s.logger.Info("student deleted", zap.String("student_id", id))
	return nil
}

func classifyStudentWrite(err error, fallback string) error {
	if database.IsUniqueViolation(err) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, msgStudentDuplicate)
	}
	return appErrors.Internal(err, fallback)
}
