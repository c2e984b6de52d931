package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-api/internal/dto"
	"github.com/noah-isme/attendance-api/internal/models"
	"github.com/noah-isme/attendance-api/pkg/database"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
)

const (
	msgAttendanceNotFound  = "attendance record not found"
	msgAttendanceDuplicate = "attendance already marked for this student, class, and date"
	msgBulkRequired        = "classId, date, and attendanceData array are required"
	msgBulkItemRequired    = "each attendance record must have studentId and status"
	msgBulkItemStatus      = "status must be Present, Absent, or Late"

	defaultBulkMaxItems = 500
)

type attendanceRepository interface {
	Create(ctx context.Context, record *models.Attendance) error
	Update(ctx context.Context, record *models.Attendance) (*models.Attendance, error)
	Upsert(ctx context.Context, record *models.Attendance) (*models.Attendance, bool, error)
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*models.Attendance, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, error)
	StatusCounts(ctx context.Context, filter models.AttendanceFilter) ([]models.StatusCount, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Student, error)
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Class, error)
}

// MarkAttendanceRequest is the payload for marking or rewriting one record.
type MarkAttendanceRequest struct {
	StudentID string `json:"studentId" validate:"required,uuid"`
	ClassID   string `json:"classId" validate:"required,uuid"`
	Date      string `json:"date" validate:"required"`
	Status    string `json:"status" validate:"required,attendance_status"`
}

// BulkMarkItem is one student status inside a bulk request.
type BulkMarkItem struct {
	StudentID string `json:"studentId"`
	Status    string `json:"status"`
}

// BulkMarkRequest marks one class on one day for many students.
type BulkMarkRequest struct {
	ClassID string         `json:"classId"`
	Date    string         `json:"date"`
	Records []BulkMarkItem `json:"attendanceData"`
}

// AttendanceService coordinates attendance workflows.
type AttendanceService struct {
	repo         attendanceRepository
	students     studentReader
	classes      classReader
	cache        *CacheService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	bulkMaxItems int
}

// AttendanceServiceConfig bundles the optional collaborators of the attendance service.
type AttendanceServiceConfig struct {
	Cache        *CacheService
	Metrics      *MetricsService
	BulkMaxItems int
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(repo attendanceRepository, students studentReader, classes classReader, validate *validator.Validate, logger *zap.Logger, cfg AttendanceServiceConfig) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BulkMaxItems <= 0 {
		cfg.BulkMaxItems = defaultBulkMaxItems
	}
	return &AttendanceService{
		repo:         repo,
		students:     students,
		classes:      classes,
		cache:        cfg.Cache,
		metrics:      cfg.Metrics,
		validator:    ensureValidator(validate),
		logger:       logger,
		bulkMaxItems: cfg.BulkMaxItems,
	}
}

// Mark records one status. A second mark for the same student, class and day is a conflict.
func (s *AttendanceService) Mark(ctx context.Context, req MarkAttendanceRequest) (*models.AttendanceRecord, error) {
	record, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, record); err != nil {
		if database.IsUniqueViolation(err) {
			s.metrics.RecordAttendanceMark("single", "duplicate")
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, msgAttendanceDuplicate)
		}
		return nil, appErrors.Internal(err, "failed to mark attendance")
	}
	s.metrics.RecordAttendanceMark("single", "created")
	s.invalidateStats(ctx)
	return s.populateOne(ctx, *record)
}

// Update rewrites an existing record. Keeping its own key is allowed, taking another record's key is a conflict.
func (s *AttendanceService) Update(ctx context.Context, id string, req MarkAttendanceRequest) (*models.AttendanceRecord, error) {
	if _, err := s.find(ctx, id); err != nil {
		return nil, err
	}
	record, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	record.ID = id
	stored, err := s.repo.Update(ctx, record)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, msgAttendanceNotFound)
		case database.IsUniqueViolation(err):
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, msgAttendanceDuplicate)
		default:
			return nil, appErrors.Internal(err, "failed to update attendance")
		}
	}
	s.metrics.RecordAttendanceMark("single", "updated")
	s.invalidateStats(ctx)
	return s.populateOne(ctx, *stored)
}

// Delete removes a record.
func (s *AttendanceService) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return appErrors.Clone(appErrors.ErrNotFound, msgAttendanceNotFound)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, msgAttendanceNotFound)
		}
		return appErrors.Internal(err, "failed to delete attendance")
	}
	s.invalidateStats(ctx)
	return nil
}

// Get returns a populated record.
func (s *AttendanceService) Get(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	record, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.populateOne(ctx, *record)
}

// List returns populated records matching the query.
func (s *AttendanceService) List(ctx context.Context, req dto.AttendanceListRequest) ([]models.AttendanceRecord, error) {
	filter := models.AttendanceFilter{
		StudentID: strings.TrimSpace(req.StudentID),
		ClassID:   strings.TrimSpace(req.ClassID),
	}
	if req.Status != "" {
		status := models.AttendanceStatus(req.Status)
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, msgBulkItemStatus)
		}
		filter.Status = status
	}
	day, err := parseOptionalDay(req.Date, "date")
	if err != nil {
		return nil, err
	}
	filter.Date = day
	return s.listPopulated(ctx, filter)
}

// ListForExport returns populated records in an optional inclusive date range.
func (s *AttendanceService) ListForExport(ctx context.Context, req dto.AttendanceExportRequest) ([]models.AttendanceRecord, error) {
	start, err := parseOptionalDay(req.StartDate, "startDate")
	if err != nil {
		return nil, err
	}
	end, err := parseOptionalDay(req.EndDate, "endDate")
	if err != nil {
		return nil, err
	}
	return s.listPopulated(ctx, models.AttendanceFilter{
		StudentID: strings.TrimSpace(req.StudentID),
		ClassID:   strings.TrimSpace(req.ClassID),
		StartDate: start,
		EndDate:   end,
	})
}

// BulkMark upserts one status per student for a class and day. Invalid batches are rejected before any write,
// while per-student persistence failures are reported next to the written records.
func (s *AttendanceService) BulkMark(ctx context.Context, req BulkMarkRequest) (*dto.BulkMarkResult, error) {
	req.ClassID = strings.TrimSpace(req.ClassID)
	if req.ClassID == "" || strings.TrimSpace(req.Date) == "" || req.Records == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, msgBulkRequired)
	}
	if len(req.Records) > s.bulkMaxItems {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("attendanceData cannot contain more than %d records", s.bulkMaxItems))
	}
	for _, item := range req.Records {
		if strings.TrimSpace(item.StudentID) == "" || strings.TrimSpace(item.Status) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, msgBulkItemRequired)
		}
		if !models.AttendanceStatus(item.Status).Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, msgBulkItemStatus)
		}
	}
	day, err := parseDay(req.Date)
	if err != nil {
		return nil, appErrors.Validation(err, "date must be a valid date")
	}
	if err := s.ensureClass(ctx, req.ClassID); err != nil {
		return nil, err
	}

	result := &dto.BulkMarkResult{Records: make([]models.AttendanceRecord, 0, len(req.Records))}
	written := make([]models.Attendance, 0, len(req.Records))
	for _, item := range req.Records {
		studentID := strings.TrimSpace(item.StudentID)
		if !validID(studentID) {
			result.Errors = append(result.Errors, dto.BulkItemError{StudentID: studentID, Error: msgStudentNotFound})
			s.metrics.RecordAttendanceMark("bulk", "failed")
			continue
		}
		stored, inserted, err := s.repo.Upsert(ctx, &models.Attendance{
			StudentID: studentID,
			ClassID:   req.ClassID,
			Date:      day,
			Status:    models.AttendanceStatus(item.Status),
		})
		if err != nil {
			result.Errors = append(result.Errors, dto.BulkItemError{StudentID: studentID, Error: bulkItemMessage(err)})
			s.metrics.RecordAttendanceMark("bulk", "failed")
			s.logger.Warn("bulk attendance item failed", zap.String("student_id", studentID), zap.Error(err))
			continue
		}
		if inserted {
			result.Created++
			s.metrics.RecordAttendanceMark("bulk", "created")
		} else {
			result.Updated++
			s.metrics.RecordAttendanceMark("bulk", "updated")
		}
		written = append(written, *stored)
	}

	if len(written) > 0 {
		s.invalidateStats(ctx)
		populated, err := s.populate(ctx, written)
		if err != nil {
			// The writes are committed; report them without summaries.
			s.logger.Warn("bulk attendance populate failed", zap.String("class_id", req.ClassID), zap.Error(err))
			for _, record := range written {
				result.Records = append(result.Records, models.AttendanceRecord{Attendance: record})
			}
		} else {
			result.Records = populated
		}
	}
	s.logger.Info("bulk attendance marked",
		zap.String("class_id", req.ClassID),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("failed", len(result.Errors)),
	)
	return result, nil
}

// Stats returns the overview for an optional date range, served from cache when possible.
func (s *AttendanceService) Stats(ctx context.Context, req dto.StatsRequest) (*models.AttendanceStats, error) {
	start, err := parseOptionalDay(req.StartDate, "startDate")
	if err != nil {
		return nil, err
	}
	end, err := parseOptionalDay(req.EndDate, "endDate")
	if err != nil {
		return nil, err
	}
	key := statsKey(start, end)
	var cached models.AttendanceStats
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	counts, err := s.repo.StatusCounts(ctx, models.AttendanceFilter{StartDate: start, EndDate: end})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to compute attendance statistics")
	}
	stats := statsFromCounts(counts)
	s.cache.Set(ctx, key, stats, 0)
	return &stats, nil
}

// StudentReport returns a student with all their records and statistics.
func (s *AttendanceService) StudentReport(ctx context.Context, studentID string) (*dto.StudentAttendanceReport, error) {
	if !validID(studentID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, msgStudentNotFound)
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, msgStudentNotFound)
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	records, err := s.listPopulated(ctx, models.AttendanceFilter{StudentID: studentID})
	if err != nil {
		return nil, err
	}
	return &dto.StudentAttendanceReport{
		Student:    *student,
		Attendance: records,
		Statistics: computeStats(records),
	}, nil
}

func (s *AttendanceService) prepare(ctx context.Context, req MarkAttendanceRequest) (*models.Attendance, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.ClassID = strings.TrimSpace(req.ClassID)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	day, err := parseDay(req.Date)
	if err != nil {
		return nil, appErrors.Validation(err, "date must be a valid date")
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, msgStudentNotFound)
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	if err := s.ensureClass(ctx, req.ClassID); err != nil {
		return nil, err
	}
	return &models.Attendance{
		StudentID: req.StudentID,
		ClassID:   req.ClassID,
		Date:      day,
		Status:    models.AttendanceStatus(req.Status),
	}, nil
}

func (s *AttendanceService) ensureClass(ctx context.Context, id string) error {
	if !validID(id) {
		return appErrors.Clone(appErrors.ErrNotFound, msgClassNotFound)
	}
	if _, err := s.classes.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, msgClassNotFound)
		}
		return appErrors.Internal(err, "failed to load class")
	}
	return nil
}

func (s *AttendanceService) find(ctx context.Context, id string) (*models.Attendance, error) {
	if !validID(id) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, msgAttendanceNotFound)
	}
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, msgAttendanceNotFound)
		}
		return nil, appErrors.Internal(err, "failed to load attendance")
	}
	return record, nil
}

func (s *AttendanceService) listPopulated(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	// Malformed ids cannot match any stored row.
	if (filter.StudentID != "" && !validID(filter.StudentID)) || (filter.ClassID != "" && !validID(filter.ClassID)) {
		return []models.AttendanceRecord{}, nil
	}
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list attendance")
	}
	return s.populate(ctx, records)
}

func (s *AttendanceService) populateOne(ctx context.Context, record models.Attendance) (*models.AttendanceRecord, error) {
	populated, err := s.populate(ctx, []models.Attendance{record})
	if err != nil {
		return nil, err
	}
	return &populated[0], nil
}

// populate attaches student and class summaries using one lookup per relation.
func (s *AttendanceService) populate(ctx context.Context, records []models.Attendance) ([]models.AttendanceRecord, error) {
	result := make([]models.AttendanceRecord, 0, len(records))
	if len(records) == 0 {
		return result, nil
	}
	studentIDs := make([]string, 0, len(records))
	classIDs := make([]string, 0, len(records))
	seenStudents := make(map[string]struct{}, len(records))
	seenClasses := make(map[string]struct{}, len(records))
	for _, record := range records {
		if _, ok := seenStudents[record.StudentID]; !ok {
			seenStudents[record.StudentID] = struct{}{}
			studentIDs = append(studentIDs, record.StudentID)
		}
		if _, ok := seenClasses[record.ClassID]; !ok {
			seenClasses[record.ClassID] = struct{}{}
			classIDs = append(classIDs, record.ClassID)
		}
	}

	students, err := s.students.FindByIDs(ctx, studentIDs)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load students")
	}
	classes, err := s.classes.FindByIDs(ctx, classIDs)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load classes")
	}
	studentByID := make(map[string]models.Student, len(students))
	for _, student := range students {
		studentByID[student.ID] = student
	}
	classByID := make(map[string]models.Class, len(classes))
	for _, class := range classes {
		classByID[class.ID] = class
	}

	for _, record := range records {
		item := models.AttendanceRecord{Attendance: record}
		if student, ok := studentByID[record.StudentID]; ok {
			item.Student = student.Summary()
		}
		if class, ok := classByID[record.ClassID]; ok {
			item.Class = class.Summary()
		}
		result = append(result, item)
	}
	return result, nil
}

func (s *AttendanceService) invalidateStats(ctx context.Context) {
	s.cache.Invalidate(ctx, statsCachePrefix+"*")
}

func bulkItemMessage(err error) string {
	if database.IsForeignKeyViolation(err) {
		return msgStudentNotFound
	}
	return err.Error()
}

func statsFromCounts(counts []models.StatusCount) models.AttendanceStats {
	var stats models.AttendanceStats
	for _, c := range counts {
		switch c.Status {
		case models.AttendanceStatusPresent:
			stats.Present += c.Count
		case models.AttendanceStatusAbsent:
			stats.Absent += c.Count
		case models.AttendanceStatusLate:
			stats.Late += c.Count
		}
		stats.Total += c.Count
	}
	stats.Percentage = attendanceRate(stats.Present, stats.Late, stats.Total)
	return stats
}

func computeStats(records []models.AttendanceRecord) models.AttendanceStats {
	counts := make([]models.StatusCount, 0, len(records))
	for _, record := range records {
		counts = append(counts, models.StatusCount{Status: record.Status, Count: 1})
	}
	return statsFromCounts(counts)
}

// attendanceRate counts late arrivals as attended and rounds to two decimals.
func attendanceRate(present, late, total int) float64 {
	if total == 0 {
		return 0
	}
	rate := float64(present+late) / float64(total) * 100
	return math.Round(rate*100) / 100
}
