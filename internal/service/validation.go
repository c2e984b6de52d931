package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/attendance-api/internal/models"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
)

const dateLayout = "2006-01-02"

// NewValidator returns a validator reporting JSON field names and knowing the attendance rules.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	registerDomainValidations(v)
	return v
}

func ensureValidator(v *validator.Validate) *validator.Validate {
	if v == nil {
		return NewValidator()
	}
	registerDomainValidations(v)
	return v
}

func registerDomainValidations(v *validator.Validate) {
	_ = v.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("user_role", func(fl validator.FieldLevel) bool {
		return models.UserRole(fl.Field().String()).Valid()
	})
}

// validationError converts validator failures into a 400 carrying one detail per field.
func validationError(err error, message string) error {
	appErr := appErrors.Validation(err, message)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErr
	}
	details := make([]appErrors.FieldDetail, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, appErrors.FieldDetail{Field: fe.Field(), Message: describeFieldError(fe)})
	}
	return appErrors.WithDetails(appErr, details)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "uuid":
		return "must be a valid id"
	case "attendance_status":
		return "must be Present, Absent, or Late"
	case "user_role":
		return "must be admin, teacher, or student"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// parseDay accepts YYYY-MM-DD or RFC3339 and keeps only the calendar day as written.
func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		t, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
		}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// parseOptionalDay returns nil for an empty value.
func parseOptionalDay(raw, field string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	day, err := parseDay(raw)
	if err != nil {
		return nil, appErrors.Validation(err, fmt.Sprintf("%s must be a valid date", field))
	}
	return &day, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
