package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-api/internal/dto"
	"github.com/noah-isme/attendance-api/internal/models"
	"github.com/noah-isme/attendance-api/pkg/database"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
	"github.com/noah-isme/attendance-api/pkg/export"
)

const defaultImportMaxRows = 1000

var importColumns = []string{"name", "rollNumber", "class", "email"}

type importStudentRepository interface {
	FindByRollNumberOrEmail(ctx context.Context, rollNumber, email string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
}

// ImportService loads students from CSV uploads.
type ImportService struct {
	repo      importStudentRepository
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	maxRows   int
}

// NewImportService constructs an ImportService.
func NewImportService(repo importStudentRepository, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, maxRows int) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRows <= 0 {
		maxRows = defaultImportMaxRows
	}
	return &ImportService{repo: repo, validator: ensureValidator(validate), metrics: metrics, logger: logger, maxRows: maxRows}
}

// ImportStudents upserts every valid row keyed by roll number or email. Invalid rows are reported and skipped.
func (s *ImportService) ImportStudents(ctx context.Context, src io.Reader) (*dto.ImportResult, error) {
	rows, err := export.ReadCSV(src, s.maxRows)
	if err != nil {
		if errors.Is(err, export.ErrTooManyRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("csv file cannot contain more than %d rows", s.maxRows))
		}
		return nil, appErrors.Validation(err, "invalid csv file")
	}

	result := &dto.ImportResult{}
	for _, row := range rows {
		created, err := s.importRow(ctx, row)
		if err != nil {
			result.Errors = append(result.Errors, dto.ImportRowError{Line: row.Line, Row: row.Values, Error: err.Error()})
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	s.metrics.RecordImportRows("created", result.Created)
	s.metrics.RecordImportRows("updated", result.Updated)
	s.metrics.RecordImportRows("failed", len(result.Errors))
	s.logger.Info("students imported",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("failed", len(result.Errors)),
	)
	return result, nil
}

func (s *ImportService) importRow(ctx context.Context, row export.Row) (bool, error) {
	if row.Err != nil {
		return false, fmt.Errorf("malformed csv line: %v", row.Err)
	}
	var missing []string
	for _, column := range importColumns {
		if row.Get(column) == "" {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return false, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	email := normaliseEmail(row.Get("email"))
	if err := s.validator.Var(email, "email"); err != nil {
		return false, fmt.Errorf("invalid email %q", row.Get("email"))
	}
	incoming := models.Student{
		Name:       row.Get("name"),
		RollNumber: row.Get("rollNumber"),
		Class:      row.Get("class"),
		Email:      email,
	}

	existing, err := s.repo.FindByRollNumberOrEmail(ctx, incoming.RollNumber, incoming.Email)
	switch {
	case err == nil:
		existing.Name = incoming.Name
		existing.RollNumber = incoming.RollNumber
		existing.Class = incoming.Class
		existing.Email = incoming.Email
		if err := s.repo.Update(ctx, existing); err != nil {
			return false, importWriteError(err)
		}
		return false, nil
	case errors.Is(err, sql.ErrNoRows):
		if err := s.repo.Create(ctx, &incoming); err != nil {
			return false, importWriteError(err)
		}
		return true, nil
	default:
		return false, err
	}
}

func importWriteError(err error) error {
	if database.IsUniqueViolation(err) {
		return errors.New(msgStudentDuplicate)
	}
	return err
}
