package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-api/internal/dto"
	"github.com/noah-isme/attendance-api/internal/models"
	"github.com/noah-isme/attendance-api/internal/repository"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
)

// memoryAttendanceRepo enforces the (student, class, day) unique key and the student foreign key.
type memoryAttendanceRepo struct {
	records     map[string]models.Attendance
	students    *mockStudentRepo
	countCalls  int
	upsertCalls int
}

func newMemoryAttendanceRepo(students *mockStudentRepo) *memoryAttendanceRepo {
	return &memoryAttendanceRepo{records: make(map[string]models.Attendance), students: students}
}

func (m *memoryAttendanceRepo) keyHolder(record *models.Attendance) (string, bool) {
	for id, r := range m.records {
		if r.StudentID == record.StudentID && r.ClassID == record.ClassID && r.Date.Equal(record.Date) {
			return id, true
		}
	}
	return "", false
}

func (m *memoryAttendanceRepo) Create(ctx context.Context, record *models.Attendance) error {
	if _, ok := m.keyHolder(record); ok {
		return &pq.Error{Code: "23505", Constraint: "attendance_student_class_date_key"}
	}
	record.ID = uuid.NewString()
	m.records[record.ID] = *record
	return nil
}

func (m *memoryAttendanceRepo) Update(ctx context.Context, record *models.Attendance) (*models.Attendance, error) {
	if _, ok := m.records[record.ID]; !ok {
		return nil, sql.ErrNoRows
	}
	if holder, ok := m.keyHolder(record); ok && holder != record.ID {
		return nil, &pq.Error{Code: "23505", Constraint: "attendance_student_class_date_key"}
	}
	m.records[record.ID] = *record
	stored := *record
	return &stored, nil
}

func (m *memoryAttendanceRepo) Upsert(ctx context.Context, record *models.Attendance) (*models.Attendance, bool, error) {
	m.upsertCalls++
	if _, ok := m.students.students[record.StudentID]; !ok {
		return nil, false, &pq.Error{Code: "23503", Constraint: "attendance_student_id_fkey"}
	}
	if holder, ok := m.keyHolder(record); ok {
		existing := m.records[holder]
		existing.Status = record.Status
		m.records[holder] = existing
		return &existing, false, nil
	}
	record.ID = uuid.NewString()
	m.records[record.ID] = *record
	stored := *record
	return &stored, true, nil
}

func (m *memoryAttendanceRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.records[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.records, id)
	return nil
}

func (m *memoryAttendanceRepo) FindByID(ctx context.Context, id string) (*models.Attendance, error) {
	if r, ok := m.records[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memoryAttendanceRepo) matches(r models.Attendance, filter models.AttendanceFilter) bool {
	switch {
	case filter.StudentID != "" && r.StudentID != filter.StudentID:
		return false
	case filter.ClassID != "" && r.ClassID != filter.ClassID:
		return false
	case filter.Status != "" && r.Status != filter.Status:
		return false
	case filter.Date != nil && !r.Date.Equal(*filter.Date):
		return false
	case filter.StartDate != nil && r.Date.Before(*filter.StartDate):
		return false
	case filter.EndDate != nil && r.Date.After(*filter.EndDate):
		return false
	}
	return true
}

func (m *memoryAttendanceRepo) List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, error) {
	list := make([]models.Attendance, 0)
	for _, r := range m.records {
		if m.matches(r, filter) {
			list = append(list, r)
		}
	}
	return list, nil
}

func (m *memoryAttendanceRepo) StatusCounts(ctx context.Context, filter models.AttendanceFilter) ([]models.StatusCount, error) {
	m.countCalls++
	grouped := make(map[models.AttendanceStatus]int)
	for _, r := range m.records {
		if m.matches(r, filter) {
			grouped[r.Status]++
		}
	}
	counts := make([]models.StatusCount, 0, len(grouped))
	for status, n := range grouped {
		counts = append(counts, models.StatusCount{Status: status, Count: n})
	}
	return counts, nil
}

type attendanceFixture struct {
	svc      *AttendanceService
	repo     *memoryAttendanceRepo
	students *mockStudentRepo
	class    models.Class
	alice    models.Student
	bob      models.Student
}

func newAttendanceFixture(t *testing.T, cfg AttendanceServiceConfig) *attendanceFixture {
	t.Helper()
	alice := sampleStudent("CS001", "alice@university.edu")
	bob := sampleStudent("CS002", "bob@university.edu")
	class := sampleClass("Data Structures")
	students := newMockStudentRepo(alice, bob)
	repo := newMemoryAttendanceRepo(students)
	svc := NewAttendanceService(repo, students, newMockClassRepo(class), nil, zap.NewNop(), cfg)
	return &attendanceFixture{svc: svc, repo: repo, students: students, class: class, alice: alice, bob: bob}
}

func (f *attendanceFixture) mark(t *testing.T, student models.Student, date, status string) *models.AttendanceRecord {
	t.Helper()
	record, err := f.svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: student.ID, ClassID: f.class.ID, Date: date, Status: status})
	require.NoError(t, err)
	return record
}

func TestAttendanceServiceMarkPopulates(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})

	record := f.mark(t, f.alice, "2024-01-15", "Present")
	require.NotNil(t, record.Student)
	require.NotNil(t, record.Class)
	assert.Equal(t, "CS001", record.Student.RollNumber)
	assert.Equal(t, "Data Structures", record.Class.Name)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), record.Date)
}

func TestAttendanceServiceMarkTwiceConflicts(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})
	f.mark(t, f.alice, "2024-01-15", "Present")

	_, err := f.svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: f.alice.ID, ClassID: f.class.ID, Date: "2024-01-15T16:30:00Z", Status: "Late"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	assert.Equal(t, msgAttendanceDuplicate, appErrors.FromError(err).Message)
	assert.Len(t, f.repo.records, 1)
}

func TestAttendanceServiceMarkUnknownReferences(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})

	_, err := f.svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: uuid.NewString(), ClassID: f.class.ID, Date: "2024-01-15", Status: "Present"})
	assert.Equal(t, msgStudentNotFound, appErrors.FromError(err).Message)

	_, err = f.svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: f.alice.ID, ClassID: uuid.NewString(), Date: "2024-01-15", Status: "Present"})
	assert.Equal(t, msgClassNotFound, appErrors.FromError(err).Message)
}

func TestAttendanceServiceMarkRejectsUnknownStatus(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})

	_, err := f.svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: f.alice.ID, ClassID: f.class.ID, Date: "2024-01-15", Status: "present"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Len(t, appErr.Details, 1)
	assert.Equal(t, "status", appErr.Details[0].Field)
}

func TestAttendanceServiceUpdateKeepsOwnKey(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})
	record := f.mark(t, f.alice, "2024-01-15", "Present")

	updated, err := f.svc.Update(context.Background(), record.ID, MarkAttendanceRequest{StudentID: f.alice.ID, ClassID: f.class.ID, Date: "2024-01-15", Status: "Late"})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusLate, updated.Status)
}

func TestAttendanceServiceUpdateCollision(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})
	f.mark(t, f.alice, "2024-01-15", "Present")
	other := f.mark(t, f.bob, "2024-01-15", "Absent")

	_, err := f.svc.Update(context.Background(), other.ID, MarkAttendanceRequest{StudentID: f.alice.ID, ClassID: f.class.ID, Date: "2024-01-15", Status: "Absent"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestAttendanceServiceUpdateMissing(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})

	_, err := f.svc.Update(context.Background(), uuid.NewString(), MarkAttendanceRequest{StudentID: f.alice.ID, ClassID: f.class.ID, Date: "2024-01-15", Status: "Absent"})
	assert.Equal(t, msgAttendanceNotFound, appErrors.FromError(err).Message)
}

func TestAttendanceServiceBulkMark(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})
	ghost := uuid.NewString()

	result, err := f.svc.BulkMark(context.Background(), BulkMarkRequest{
		ClassID: f.class.ID,
		Date:    "2024-01-15",
		Records: []BulkMarkItem{
			{StudentID: f.alice.ID, Status: "Present"},
			{StudentID: ghost, Status: "Absent"},
			{StudentID: f.bob.ID, Status: "Late"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Len(t, result.Records, 2)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, dto.BulkItemError{StudentID: ghost, Error: msgStudentNotFound}, result.Errors[0])
	for _, record := range result.Records {
		assert.NotNil(t, record.Student)
		assert.NotNil(t, record.Class)
	}

	again, err := f.svc.BulkMark(context.Background(), BulkMarkRequest{
		ClassID: f.class.ID,
		Date:    "2024-01-15",
		Records: []BulkMarkItem{{StudentID: f.alice.ID, Status: "Absent"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 1, again.Updated)
	assert.Empty(t, again.Errors)
	assert.Len(t, f.repo.records, 2)
}

func TestAttendanceServiceBulkMarkSurvivesPopulateFailure(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})
	f.students.lookupErr = errors.New("connection reset")
	ghost := uuid.NewString()

	result, err := f.svc.BulkMark(context.Background(), BulkMarkRequest{
		ClassID: f.class.ID,
		Date:    "2024-01-16",
		Records: []BulkMarkItem{
			{StudentID: f.alice.ID, Status: "Present"},
			{StudentID: ghost, Status: "Late"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Records, 1)
	assert.Equal(t, f.alice.ID, result.Records[0].StudentID)
	assert.Nil(t, result.Records[0].Student)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, ghost, result.Errors[0].StudentID)
	assert.Len(t, f.repo.records, 1)
}

func TestAttendanceServiceBulkMarkValidatesBeforeWriting(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})

	cases := []struct {
		name    string
		req     BulkMarkRequest
		message string
	}{
		{"missing array", BulkMarkRequest{ClassID: f.class.ID, Date: "2024-01-15"}, msgBulkRequired},
		{"missing class", BulkMarkRequest{Date: "2024-01-15", Records: []BulkMarkItem{}}, msgBulkRequired},
		{"missing student", BulkMarkRequest{ClassID: f.class.ID, Date: "2024-01-15", Records: []BulkMarkItem{
			{StudentID: f.alice.ID, Status: "Present"},
			{Status: "Present"},
		}}, msgBulkItemRequired},
		{"bad status", BulkMarkRequest{ClassID: f.class.ID, Date: "2024-01-15", Records: []BulkMarkItem{
			{StudentID: f.alice.ID, Status: "Present"},
			{StudentID: f.bob.ID, Status: "Excused"},
		}}, msgBulkItemStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.BulkMark(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.message, appErrors.FromError(err).Message)
		})
	}
	assert.Zero(t, f.repo.upsertCalls)
}

func TestAttendanceServiceBulkMarkLimit(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{BulkMaxItems: 2})
	items := make([]BulkMarkItem, 3)
	for i := range items {
		items[i] = BulkMarkItem{StudentID: uuid.NewString(), Status: "Present"}
	}

	_, err := f.svc.BulkMark(context.Background(), BulkMarkRequest{ClassID: f.class.ID, Date: "2024-01-15", Records: items})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Zero(t, f.repo.upsertCalls)
}

func TestAttendanceServiceStatsEmpty(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})

	stats, err := f.svc.Stats(context.Background(), dto.StatsRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStats{}, *stats)
}

func TestAttendanceServiceStatsPercentage(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})
	statuses := []string{"Present", "Present", "Present", "Present", "Present", "Present", "Absent", "Absent", "Late", "Late"}
	for i, status := range statuses {
		f.mark(t, f.alice, fmt.Sprintf("2024-01-%02d", i+1), status)
	}

	stats, err := f.svc.Stats(context.Background(), dto.StatsRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStats{Total: 10, Present: 6, Absent: 2, Late: 2, Percentage: 80}, *stats)

	ranged, err := f.svc.Stats(context.Background(), dto.StatsRequest{StartDate: "2024-01-07", EndDate: "2024-01-08"})
	require.NoError(t, err)
	assert.Equal(t, 2, ranged.Total)
	assert.Equal(t, float64(0), ranged.Percentage)
}

func TestAttendanceServiceStatsCachedUntilWrite(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCacheService(repository.NewCacheRepository(client), nil, time.Minute, zap.NewNop(), true)

	f := newAttendanceFixture(t, AttendanceServiceConfig{Cache: cache})
	f.mark(t, f.alice, "2024-01-15", "Present")

	first, err := f.svc.Stats(context.Background(), dto.StatsRequest{})
	require.NoError(t, err)
	_, err = f.svc.Stats(context.Background(), dto.StatsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.countCalls)
	assert.True(t, srv.Exists(statsKey(nil, nil)))

	f.mark(t, f.bob, "2024-01-15", "Absent")
	assert.False(t, srv.Exists(statsKey(nil, nil)))

	second, err := f.svc.Stats(context.Background(), dto.StatsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.repo.countCalls)
	assert.Equal(t, float64(100), first.Percentage)
	assert.Equal(t, float64(50), second.Percentage)
}

func TestAttendanceServiceStudentReport(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})
	f.mark(t, f.alice, "2024-01-15", "Present")
	f.mark(t, f.alice, "2024-01-16", "Absent")
	f.mark(t, f.alice, "2024-01-17", "Late")
	f.mark(t, f.bob, "2024-01-15", "Absent")

	report, err := f.svc.StudentReport(context.Background(), f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, report.Student.ID)
	assert.Len(t, report.Attendance, 3)
	assert.Equal(t, 3, report.Statistics.Total)
	assert.Equal(t, 66.67, report.Statistics.Percentage)
}

func TestAttendanceServiceListKeepsOrphans(t *testing.T) {
	f := newAttendanceFixture(t, AttendanceServiceConfig{})
	f.repo.records["orphan"] = models.Attendance{
		ID:        "orphan",
		StudentID: f.alice.ID,
		ClassID:   uuid.NewString(),
		Date:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Status:    models.AttendanceStatusPresent,
	}

	records, err := f.svc.List(context.Background(), dto.AttendanceListRequest{Date: "2024-01-15"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotNil(t, records[0].Student)
	assert.Nil(t, records[0].Class)

	none, err := f.svc.List(context.Background(), dto.AttendanceListRequest{StudentID: "bogus"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAttendanceRate(t *testing.T) {
	assert.Equal(t, float64(0), attendanceRate(0, 0, 0))
	assert.Equal(t, 80.0, attendanceRate(6, 2, 10))
	assert.Equal(t, 33.33, attendanceRate(1, 0, 3))
}
