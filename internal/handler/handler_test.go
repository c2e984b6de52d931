package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-api/internal/dto"
	"github.com/noah-isme/attendance-api/internal/middleware"
	"github.com/noah-isme/attendance-api/internal/models"
	"github.com/noah-isme/attendance-api/internal/service"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
	Count   *int            `json:"count"`
	Code    string          `json:"code"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func newContext(method, target string, body io.Reader) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, body)
	if body != nil {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	return c, w
}

type attendanceServiceMock struct {
	markReq   service.MarkAttendanceRequest
	markErr   error
	bulk      *dto.BulkMarkResult
	stats     *models.AttendanceStats
	statsReq  dto.StatsRequest
	listReq   dto.AttendanceListRequest
	deleteErr error
}

func (m *attendanceServiceMock) Mark(ctx context.Context, req service.MarkAttendanceRequest) (*models.AttendanceRecord, error) {
	m.markReq = req
	if m.markErr != nil {
		return nil, m.markErr
	}
	return &models.AttendanceRecord{Attendance: models.Attendance{ID: "a1", StudentID: req.StudentID, Status: models.AttendanceStatus(req.Status)}}, nil
}

func (m *attendanceServiceMock) Update(ctx context.Context, id string, req service.MarkAttendanceRequest) (*models.AttendanceRecord, error) {
	return &models.AttendanceRecord{Attendance: models.Attendance{ID: id}}, nil
}

func (m *attendanceServiceMock) Delete(ctx context.Context, id string) error {
	return m.deleteErr
}

func (m *attendanceServiceMock) Get(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	return &models.AttendanceRecord{Attendance: models.Attendance{ID: id}}, nil
}

func (m *attendanceServiceMock) List(ctx context.Context, req dto.AttendanceListRequest) ([]models.AttendanceRecord, error) {
	m.listReq = req
	return []models.AttendanceRecord{{}, {}}, nil
}

func (m *attendanceServiceMock) BulkMark(ctx context.Context, req service.BulkMarkRequest) (*dto.BulkMarkResult, error) {
	return m.bulk, nil
}

func (m *attendanceServiceMock) Stats(ctx context.Context, req dto.StatsRequest) (*models.AttendanceStats, error) {
	m.statsReq = req
	return m.stats, nil
}

type exporterMock struct {
	file *service.ExportFile
	err  error
	req  dto.AttendanceExportRequest
}

func (m *exporterMock) ExportAttendance(ctx context.Context, req dto.AttendanceExportRequest) (*service.ExportFile, error) {
	m.req = req
	return m.file, m.err
}

func (m *exporterMock) ExportStudents(ctx context.Context, format string) (*service.ExportFile, error) {
	return m.file, m.err
}

func TestAttendanceHandlerMark(t *testing.T) {
	svc := &attendanceServiceMock{}
	h := NewAttendanceHandler(svc, &exporterMock{})

	c, w := newContext(http.MethodPost, "/attendance", strings.NewReader(`{"studentId":"s1","classId":"c1","date":"2024-01-15","status":"Present"}`))
	h.Mark(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "2024-01-15", svc.markReq.Date)
	body := decode(t, w)
	assert.True(t, body.Success)
}

func TestAttendanceHandlerMarkConflict(t *testing.T) {
	svc := &attendanceServiceMock{markErr: appErrors.Clone(appErrors.ErrConflict, "attendance already marked for this student, class, and date")}
	h := NewAttendanceHandler(svc, &exporterMock{})

	c, w := newContext(http.MethodPost, "/attendance", strings.NewReader(`{"studentId":"s1","classId":"c1","date":"2024-01-15","status":"Present"}`))
	h.Mark(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.False(t, body.Success)
	assert.Equal(t, "attendance already marked for this student, class, and date", body.Message)
}

func TestAttendanceHandlerMarkMalformedJSON(t *testing.T) {
	h := NewAttendanceHandler(&attendanceServiceMock{}, &exporterMock{})

	c, w := newContext(http.MethodPost, "/attendance", strings.NewReader(`{"studentId":`))
	h.Mark(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttendanceHandlerBulkPartial(t *testing.T) {
	svc := &attendanceServiceMock{bulk: &dto.BulkMarkResult{
		Records: []models.AttendanceRecord{{}, {}},
		Errors:  []dto.BulkItemError{{StudentID: "ghost", Error: "student not found"}},
		Created: 2,
	}}
	h := NewAttendanceHandler(svc, &exporterMock{})

	c, w := newContext(http.MethodPost, "/attendance/bulk", strings.NewReader(`{"classId":"c1","date":"2024-01-15","attendanceData":[]}`))
	h.BulkMark(c)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.True(t, body.Success)
	assert.Equal(t, "Bulk attendance marked successfully. 2 records processed.", body.Message)
	assert.Contains(t, string(body.Errors), "ghost")
}

func TestAttendanceHandlerBulkWithoutErrorsOmitsField(t *testing.T) {
	svc := &attendanceServiceMock{bulk: &dto.BulkMarkResult{Records: []models.AttendanceRecord{{}}}}
	h := NewAttendanceHandler(svc, &exporterMock{})

	c, w := newContext(http.MethodPost, "/attendance/bulk", strings.NewReader(`{"classId":"c1","date":"2024-01-15","attendanceData":[]}`))
	h.BulkMark(c)

	assert.NotContains(t, w.Body.String(), `"errors"`)
}

func TestAttendanceHandlerListAndStats(t *testing.T) {
	svc := &attendanceServiceMock{stats: &models.AttendanceStats{Total: 10, Present: 6, Absent: 2, Late: 2, Percentage: 80}}
	h := NewAttendanceHandler(svc, &exporterMock{})

	c, w := newContext(http.MethodGet, "/attendance?classId=c1&status=Late", nil)
	h.List(c)
	body := decode(t, w)
	require.NotNil(t, body.Count)
	assert.Equal(t, 2, *body.Count)
	assert.Equal(t, "c1", svc.listReq.ClassID)
	assert.Equal(t, "Late", svc.listReq.Status)

	c, w = newContext(http.MethodGet, "/attendance/stats/overview?startDate=2024-01-01", nil)
	h.Stats(c)
	assert.Equal(t, "2024-01-01", svc.statsReq.StartDate)
	assert.Contains(t, w.Body.String(), `"percentage":80`)
}

func TestAttendanceHandlerExport(t *testing.T) {
	exporter := &exporterMock{file: &service.ExportFile{Filename: "attendance-2024-03-01.csv", ContentType: "text/csv", Payload: []byte("studentName\n")}}
	h := NewAttendanceHandler(&attendanceServiceMock{}, exporter)

	c, w := newContext(http.MethodGet, "/attendance/export/csv?classId=c1&format=csv", nil)
	h.Export(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "attachment; filename=attendance-2024-03-01.csv", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "c1", exporter.req.ClassID)
	assert.Equal(t, "csv", exporter.req.Format)
}

func TestAttendanceHandlerExportEmpty(t *testing.T) {
	exporter := &exporterMock{err: appErrors.Clone(appErrors.ErrNotFound, "no attendance records found to export")}
	h := NewAttendanceHandler(&attendanceServiceMock{}, exporter)

	c, w := newContext(http.MethodGet, "/attendance/export/csv", nil)
	h.Export(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type studentServiceMock struct {
	filter models.StudentFilter
}

func (m *studentServiceMock) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	m.filter = filter
	return []models.Student{{ID: "s1"}}, 1, nil
}

func (m *studentServiceMock) Get(ctx context.Context, id string) (*models.Student, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
}

func (m *studentServiceMock) Create(ctx context.Context, req service.StudentRequest) (*models.Student, error) {
	return &models.Student{ID: "s1", Name: req.Name}, nil
}

func (m *studentServiceMock) Update(ctx context.Context, id string, req service.StudentRequest) (*models.Student, error) {
	return &models.Student{ID: id, Name: req.Name}, nil
}

func (m *studentServiceMock) Delete(ctx context.Context, id string) error {
	return appErrors.Clone(appErrors.ErrConflict, "cannot delete student with existing attendance records")
}

type reportServiceMock struct{}

func (reportServiceMock) StudentReport(ctx context.Context, studentID string) (*dto.StudentAttendanceReport, error) {
	return &dto.StudentAttendanceReport{Student: models.Student{ID: studentID}}, nil
}

type importerMock struct {
	body   string
	result *dto.ImportResult
}

func (m *importerMock) ImportStudents(ctx context.Context, src io.Reader) (*dto.ImportResult, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	m.body = string(raw)
	return m.result, nil
}

func uploadRequest(t *testing.T, filename, contentType, content string) *http.Request {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/students/import/csv", buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func newStudentHandler(importer *importerMock, upload UploadConfig) *StudentHandler {
	return NewStudentHandler(&studentServiceMock{}, reportServiceMock{}, importer, &exporterMock{}, upload)
}

func TestStudentHandlerImport(t *testing.T) {
	importer := &importerMock{result: &dto.ImportResult{Created: 1, Updated: 1, Errors: []dto.ImportRowError{{Line: 4, Error: "missing required fields: email"}}}}
	h := newStudentHandler(importer, UploadConfig{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = uploadRequest(t, "students.csv", "text/csv", "name,rollNumber,class,email\n")
	h.Import(c)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "CSV imported successfully. Created: 1, Updated: 1", body.Message)
	assert.Contains(t, string(body.Errors), "missing required fields")
	assert.Equal(t, "name,rollNumber,class,email\n", importer.body)
}

func TestStudentHandlerImportAcceptsCSVMime(t *testing.T) {
	importer := &importerMock{result: &dto.ImportResult{}}
	h := newStudentHandler(importer, UploadConfig{AllowedMIMEs: []string{"text/csv"}})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = uploadRequest(t, "export", "text/csv", "name\n")
	h.Import(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStudentHandlerImportRejectsNonCSV(t *testing.T) {
	h := newStudentHandler(&importerMock{}, UploadConfig{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = uploadRequest(t, "students.json", "application/json", "{}")
	h.Import(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "only CSV files are allowed", decode(t, w).Message)
}

func TestStudentHandlerImportTooLarge(t *testing.T) {
	h := newStudentHandler(&importerMock{}, UploadConfig{MaxFileSize: 8})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = uploadRequest(t, "students.csv", "text/csv", "name,rollNumber,class,email\n")
	h.Import(c)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestStudentHandlerImportMissingFile(t *testing.T) {
	h := newStudentHandler(&importerMock{}, UploadConfig{})

	c, w := newContext(http.MethodPost, "/students/import/csv", strings.NewReader("{}"))
	h.Import(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStudentHandlerListAndDelete(t *testing.T) {
	svc := &studentServiceMock{}
	h := NewStudentHandler(svc, reportServiceMock{}, &importerMock{}, &exporterMock{}, UploadConfig{})

	c, w := newContext(http.MethodGet, "/students?search=doe&class=CS&page=2&pageSize=10", nil)
	h.List(c)
	assert.Equal(t, models.StudentFilter{Search: "doe", Class: "CS", Page: 2, PageSize: 10}, svc.filter)
	assert.Equal(t, 1, *decode(t, w).Count)

	c, w = newContext(http.MethodDelete, "/students/s1", nil)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}
	h.Delete(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "cannot delete student with existing attendance records", decode(t, w).Message)
}

func TestStudentHandlerAttendanceReport(t *testing.T) {
	h := NewStudentHandler(&studentServiceMock{}, reportServiceMock{}, &importerMock{}, &exporterMock{}, UploadConfig{})

	c, w := newContext(http.MethodGet, "/students/s1/attendance", nil)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}
	h.Attendance(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"statistics"`)
}

type authServiceMock struct {
	loginErr error
	lastMeta models.LoginRequest
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.lastMeta = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{Token: "t"}, nil
}

func (m *authServiceMock) StudentLogin(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	return &models.LoginResponse{Token: "t", Student: &models.Student{ID: "s1"}}, nil
}

func (m *authServiceMock) RegisterStudent(ctx context.Context, req models.RegisterStudentRequest, meta models.LoginRequest) (*models.LoginResponse, error) {
	return &models.LoginResponse{Token: "t"}, nil
}

func (m *authServiceMock) CreateUser(ctx context.Context, actorID string, req models.CreateUserRequest) (*models.UserInfo, error) {
	return &models.UserInfo{ID: "u2", Role: req.Role}, nil
}

func (m *authServiceMock) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	return &models.UserInfo{ID: userID}, nil
}

func (m *authServiceMock) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	return nil
}

func TestAuthHandlerLoginFailure(t *testing.T) {
	svc := &authServiceMock{loginErr: appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")}
	h := NewAuthHandler(svc)

	c, w := newContext(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@b.co","password":"x"}`))
	c.Request.Header.Set("User-Agent", "tests")
	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "tests", svc.lastMeta.UserAgent)
}

func TestAuthHandlerMeRequiresClaims(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})

	c, w := newContext(http.MethodGet, "/auth/me", nil)
	h.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newContext(http.MethodGet, "/auth/me", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u1", Role: models.RoleTeacher})
	h.Me(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"u1"`)
}

func TestStudentAuthHandlerRegister(t *testing.T) {
	h := NewStudentAuthHandler(&authServiceMock{})

	c, w := newContext(http.MethodPost, "/student-auth/register", strings.NewReader(`{"name":"Jane","email":"j@u.edu","rollNumber":"CS9","class":"CS","password":"secret1"}`))
	h.Register(c)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]Pinger{
		"database": PingerFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingerFunc(func(ctx context.Context) error { return errors.New("refused") }),
	}, nil)

	c, w := newContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"down"`)

}

func TestMetricsHandlerPrometheusWithoutRegistry(t *testing.T) {
	h := NewMetricsHandler(nil, nil, nil)

	c, w := newContext(http.MethodGet, "/metrics", nil)
	h.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, c.IsAborted())
}
