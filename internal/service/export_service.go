package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-api/internal/dto"
	"github.com/noah-isme/attendance-api/internal/models"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
	"github.com/noah-isme/attendance-api/pkg/export"
)

const notAvailable = "N/A"

var (
	studentExportHeaders    = []string{"name", "rollNumber", "class", "email"}
	attendanceExportHeaders = []string{"studentName", "rollNumber", "studentClass", "studentEmail", "className", "subject", "teacher", "date", "status"}
)

type studentLister interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
}

type attendanceExportSource interface {
	ListForExport(ctx context.Context, req dto.AttendanceExportRequest) ([]models.AttendanceRecord, error)
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders students and attendance into downloadable files.
type ExportService struct {
	students   studentLister
	attendance attendanceExportSource
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(students studentLister, attendance attendanceExportSource, metrics *MetricsService, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{students: students, attendance: attendance, metrics: metrics, logger: logger, now: time.Now}
}

// ExportStudents renders every student in the requested format.
func (s *ExportService) ExportStudents(ctx context.Context, format string) (*ExportFile, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, appErrors.Validation(err, err.Error())
	}
	students, _, err := s.students.List(ctx, models.StudentFilter{})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load students")
	}
	if len(students) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no students found to export")
	}

	dataset := export.Dataset{Headers: studentExportHeaders, Rows: make([]map[string]string, 0, len(students))}
	for _, student := range students {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"name":       student.Name,
			"rollNumber": student.RollNumber,
			"class":      student.Class,
			"email":      student.Email,
		})
	}
	return s.render(f, dataset, "Students", "students")
}

// ExportAttendance renders the filtered attendance records in the requested format.
func (s *ExportService) ExportAttendance(ctx context.Context, req dto.AttendanceExportRequest) (*ExportFile, error) {
	f, err := export.ParseFormat(req.Format)
	if err != nil {
		return nil, appErrors.Validation(err, err.Error())
	}
	records, err := s.attendance.ListForExport(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no attendance records found to export")
	}

	dataset := export.Dataset{Headers: attendanceExportHeaders, Rows: make([]map[string]string, 0, len(records))}
	for _, record := range records {
		dataset.Rows = append(dataset.Rows, attendanceRow(record))
	}
	return s.render(f, dataset, "Attendance", "attendance")
}

func (s *ExportService) render(f export.Format, dataset export.Dataset, title, resource string) (*ExportFile, error) {
	payload, err := export.NewRenderer(f).Render(dataset, title)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}
	s.metrics.RecordExport(resource, string(f))
	s.logger.Info("export rendered",
		zap.String("resource", resource),
		zap.String("format", string(f)),
		zap.Int("rows", len(dataset.Rows)),
	)
	base := resource + "-" + s.now().UTC().Format(dateLayout)
	return &ExportFile{Filename: f.Filename(base), ContentType: f.ContentType(), Payload: payload}, nil
}

func attendanceRow(record models.AttendanceRecord) map[string]string {
	row := map[string]string{
		"studentName":  notAvailable,
		"rollNumber":   notAvailable,
		"studentClass": notAvailable,
		"studentEmail": notAvailable,
		"className":    notAvailable,
		"subject":      notAvailable,
		"teacher":      notAvailable,
		"date":         record.Date.Format(dateLayout),
		"status":       string(record.Status),
	}
	if record.Student != nil {
		row["studentName"] = record.Student.Name
		row["rollNumber"] = record.Student.RollNumber
		row["studentClass"] = record.Student.Class
		row["studentEmail"] = record.Student.Email
	}
	if record.Class != nil {
		row["className"] = record.Class.Name
		row["subject"] = record.Class.Subject
		row["teacher"] = record.Class.Teacher
	}
	return row
}
