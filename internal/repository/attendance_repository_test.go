package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-api/internal/models"
	"github.com/noah-isme/attendance-api/pkg/database"
)

var attendanceRowColumns = []string{"id", "student_id", "class_id", "date", "status", "created_at", "updated_at"}

func day(value string) time.Time {
	d, _ := time.Parse("2006-01-02", value)
	return d
}

func TestAttendanceRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec("INSERT INTO attendance").
		WithArgs(sqlmock.AnyArg(), "s1", "c1", day("2024-01-10"), models.AttendanceStatusPresent, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "attendance_student_class_date_key"})

	err := repo.Create(context.Background(), &models.Attendance{StudentID: "s1", ClassID: "c1", Date: day("2024-01-10"), Status: models.AttendanceStatusPresent})
	assert.True(t, database.IsUniqueViolation(err))
}

func TestAttendanceRepositoryUpsertReportsInsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	now := time.Now()
	cols := append(append([]string{}, attendanceRowColumns...), "inserted")
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (student_id, class_id, date) DO UPDATE SET status = EXCLUDED.status")).
		WithArgs(sqlmock.AnyArg(), "s1", "c1", day("2024-01-10"), models.AttendanceStatusAbsent, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a-existing", "s1", "c1", day("2024-01-10"), "Absent", now, now, false))

	stored, inserted, err := repo.Upsert(context.Background(), &models.Attendance{StudentID: "s1", ClassID: "c1", Date: day("2024-01-10"), Status: models.AttendanceStatusAbsent})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "a-existing", stored.ID)
	assert.Equal(t, models.AttendanceStatusAbsent, stored.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryUpdateMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("UPDATE attendance SET").WillReturnError(sql.ErrNoRows)

	_, err := repo.Update(context.Background(), &models.Attendance{ID: "missing"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestAttendanceRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	now := time.Now()
	d := day("2024-01-10")
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance WHERE 1=1 AND class_id = $1 AND status = $2 AND date = $3 ORDER BY date DESC, created_at DESC")).
		WithArgs("c1", models.AttendanceStatusLate, d).
		WillReturnRows(sqlmock.NewRows(attendanceRowColumns).AddRow("a1", "s1", "c1", d, "Late", now, now))

	records, err := repo.List(context.Background(), models.AttendanceFilter{ClassID: "c1", Status: models.AttendanceStatusLate, Date: &d})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryStatusCounts(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	start, end := day("2024-01-01"), day("2024-01-31")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM attendance WHERE 1=1 AND date >= $1 AND date <= $2 GROUP BY status")).
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("Present", 6).AddRow("Late", 2).AddRow("Absent", 2))

	counts, err := repo.StatusCounts(context.Background(), models.AttendanceFilter{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	assert.Len(t, counts, 3)
	assert.Equal(t, 6, counts[0].Count)
}

func TestAttendanceRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM attendance WHERE id = $1")).WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "a1"), sql.ErrNoRows)
}
