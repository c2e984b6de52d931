package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-api/internal/dto"
	"github.com/noah-isme/attendance-api/internal/models"
	"github.com/noah-isme/attendance-api/internal/service"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
	"github.com/noah-isme/attendance-api/pkg/response"
)

const defaultMaxImportSize int64 = 5 << 20

type studentService interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	Get(ctx context.Context, id string) (*models.Student, error)
	Create(ctx context.Context, req service.StudentRequest) (*models.Student, error)
	Update(ctx context.Context, id string, req service.StudentRequest) (*models.Student, error)
	Delete(ctx context.Context, id string) error
}

type studentReportService interface {
	StudentReport(ctx context.Context, studentID string) (*dto.StudentAttendanceReport, error)
}

type studentImporter interface {
	ImportStudents(ctx context.Context, src io.Reader) (*dto.ImportResult, error)
}

type studentExporter interface {
	ExportStudents(ctx context.Context, format string) (*service.ExportFile, error)
}

// UploadConfig bounds CSV uploads.
type UploadConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
}

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students studentService
	reports  studentReportService
	importer studentImporter
	exporter studentExporter
	upload   UploadConfig
}

// NewStudentHandler constructs a student handler.
func NewStudentHandler(students studentService, reports studentReportService, importer studentImporter, exporter studentExporter, upload UploadConfig) *StudentHandler {
	if upload.MaxFileSize <= 0 {
		upload.MaxFileSize = defaultMaxImportSize
	}
	if len(upload.AllowedMIMEs) == 0 {
		upload.AllowedMIMEs = []string{"text/csv"}
	}
	return &StudentHandler{students: students, reports: reports, importer: importer, exporter: exporter, upload: upload}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param search query string false "Search by name, roll number or email"
// @Param class query string false "Class label"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	var req dto.StudentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	students, total, err := h.students.List(c.Request.Context(), models.StudentFilter{
		Search:   strings.TrimSpace(req.Search),
		Class:    strings.TrimSpace(req.Class),
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, students, total)
}

// Get godoc
// @Summary Get student
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, "")
}

// Attendance godoc
// @Summary Student attendance report
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id}/attendance [get]
func (h *StudentHandler) Attendance(c *gin.Context) {
	report, err := h.reports.StudentReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, "")
}

// Create godoc
// @Summary Create student
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.StudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req service.StudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid student payload"))
		return
	}
	student, err := h.students.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student, "student created successfully")
}

// Update godoc
// @Summary Update student
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Param payload body service.StudentRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	var req service.StudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid student payload"))
		return
	}
	student, err := h.students.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, "student updated successfully")
}

// Delete godoc
// @Summary Delete student
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	if err := h.students.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, "student deleted successfully")
}

// Import godoc
// @Summary Import students from CSV
// @Tags Students
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "CSV file with name, rollNumber, class, email columns"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /students/import/csv [post]
func (h *StudentHandler) Import(c *gin.Context) {
	// Leave room for multipart framing around the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.upload.MaxFileSize+(1<<20))
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, h.tooLarge())
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "no file uploaded"))
		return
	}
	if header.Size > h.upload.MaxFileSize {
		response.Error(c, h.tooLarge())
		return
	}
	if !h.acceptsCSV(header) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "only CSV files are allowed"))
		return
	}

	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to read uploaded file"))
		return
	}
	defer file.Close()

	result, err := h.importer.ImportStudents(c.Request.Context(), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	message := fmt.Sprintf("CSV imported successfully. Created: %d, Updated: %d", result.Created, result.Updated)
	if len(result.Errors) > 0 {
		response.Partial(c, http.StatusOK, result, message, result.Errors)
		return
	}
	response.JSON(c, http.StatusOK, result, message)
}

// Export godoc
// @Summary Export students
// @Tags Students
// @Produce text/csv
// @Security BearerAuth
// @Param format query string false "csv (default), xlsx or pdf"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /students/export/csv [get]
func (h *StudentHandler) Export(c *gin.Context) {
	file, err := h.exporter.ExportStudents(c.Request.Context(), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.ContentType, file.Filename, file.Payload)
}

func (h *StudentHandler) acceptsCSV(header *multipart.FileHeader) bool {
	if strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		return true
	}
	contentType := strings.ToLower(strings.TrimSpace(strings.SplitN(header.Header.Get("Content-Type"), ";", 2)[0]))
	for _, allowed := range h.upload.AllowedMIMEs {
		if contentType == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func (h *StudentHandler) tooLarge() error {
	return appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds the %d byte limit", h.upload.MaxFileSize))
}
