package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-api/internal/models"
)

const attendanceColumns = "id, student_id, class_id, date, status, created_at, updated_at"

// AttendanceRepository persists attendance records. The (student_id, class_id, date) unique index
// is the only duplicate guard; callers classify its violation.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Create inserts a record. A duplicate day surfaces as the driver's unique violation.
func (r *AttendanceRepository) Create(ctx context.Context, record *models.Attendance) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	const query = `INSERT INTO attendance (id, student_id, class_id, date, status, created_at, updated_at)
        VALUES (:id, :student_id, :class_id, :date, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create attendance: %w", err)
	}
	return nil
}

// Update rewrites a record in place and returns the stored row. It returns sql.ErrNoRows when the record is missing.
func (r *AttendanceRepository) Update(ctx context.Context, record *models.Attendance) (*models.Attendance, error) {
	query := fmt.Sprintf(`UPDATE attendance SET student_id = $2, class_id = $3, date = $4, status = $5, updated_at = $6
        WHERE id = $1 RETURNING %s`, attendanceColumns)
	var stored models.Attendance
	if err := r.db.GetContext(ctx, &stored, query, record.ID, record.StudentID, record.ClassID, record.Date, record.Status, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("update attendance: %w", err)
	}
	return &stored, nil
}

type upsertedAttendance struct {
	models.Attendance
	Inserted bool `db:"inserted"`
}

// Upsert creates the record for its (student, class, day) key or updates the status of the existing one.
// The boolean reports whether a new row was inserted.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.Attendance) (*models.Attendance, bool, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`INSERT INTO attendance (id, student_id, class_id, date, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (student_id, class_id, date) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
        RETURNING %s, (xmax = 0) AS inserted`, attendanceColumns)
	var stored upsertedAttendance
	if err := r.db.GetContext(ctx, &stored, query, record.ID, record.StudentID, record.ClassID, record.Date, record.Status, now, now); err != nil {
		return nil, false, fmt.Errorf("upsert attendance: %w", err)
	}
	return &stored.Attendance, stored.Inserted, nil
}

// Delete removes a record. It returns sql.ErrNoRows when the record is missing.
func (r *AttendanceRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	return expectAffected(res, "delete attendance")
}

// FindByID returns a record by ID.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.Attendance, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance WHERE id = $1", attendanceColumns)
	var record models.Attendance
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	return &record, nil
}

// List returns records matching the filter, latest day first.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, error) {
	where, args := attendanceWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM attendance WHERE %s ORDER BY date DESC, created_at DESC", attendanceColumns, where)
	records := make([]models.Attendance, 0)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}

// StatusCounts groups matching records by status.
func (r *AttendanceRepository) StatusCounts(ctx context.Context, filter models.AttendanceFilter) ([]models.StatusCount, error) {
	where, args := attendanceWhere(filter)
	query := fmt.Sprintf("SELECT status, COUNT(*) AS count FROM attendance WHERE %s GROUP BY status", where)
	counts := make([]models.StatusCount, 0, 3)
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count attendance by status: %w", err)
	}
	return counts, nil
}

func attendanceWhere(filter models.AttendanceFilter) (string, []interface{}) {
	conditions := []string{"1=1"}
	var args []interface{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.StudentID != "" {
		add("student_id = $%d", filter.StudentID)
	}
	if filter.ClassID != "" {
		add("class_id = $%d", filter.ClassID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Date != nil {
		add("date = $%d", *filter.Date)
	}
	if filter.StartDate != nil {
		add("date >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("date <= $%d", *filter.EndDate)
	}
	return strings.Join(conditions, " AND "), args
}
