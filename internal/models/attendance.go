package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "Present"
	AttendanceStatusAbsent  AttendanceStatus = "Absent"
	AttendanceStatusLate    AttendanceStatus = "Late"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate:
		return true
	default:
		return false
	}
}

// Attendance is one status observation for one student in one class on one calendar day.
type Attendance struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"studentId"`
	ClassID   string           `db:"class_id" json:"classId"`
	Date      time.Time        `db:"date" json:"date"`
	Status    AttendanceStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time        `db:"updated_at" json:"updatedAt"`
}

// AttendanceRecord is an attendance row populated with its student and class.
// A nil relation means the referenced row no longer exists.
type AttendanceRecord struct {
	Attendance
	Student *StudentSummary `json:"student"`
	Class   *ClassSummary   `json:"class"`
}

// AttendanceFilter defines query filters. Date selects a single day while StartDate/EndDate bound a range inclusively.
type AttendanceFilter struct {
	StudentID string
	ClassID   string
	Status    AttendanceStatus
	Date      *time.Time
	StartDate *time.Time
	EndDate   *time.Time
}

// AttendanceStats aggregates status counts and the attendance rate.
type AttendanceStats struct {
	Total      int     `json:"total"`
	Present    int     `json:"present"`
	Absent     int     `json:"absent"`
	Late       int     `json:"late"`
	Percentage float64 `json:"percentage"`
}

// StatusCount is a grouped count row.
type StatusCount struct {
	Status AttendanceStatus `db:"status"`
	Count  int              `db:"count"`
}
