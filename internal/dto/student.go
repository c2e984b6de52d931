package dto

import "github.com/noah-isme/attendance-api/internal/models"

// ImportRowError reports a CSV row that was skipped or failed to persist.
type ImportRowError struct {
	Line  int               `json:"line"`
	Row   map[string]string `json:"row"`
	Error string            `json:"error"`
}

// ImportResult summarises a student CSV import.
type ImportResult struct {
	Created int              `json:"created"`
	Updated int              `json:"updated"`
	Errors  []ImportRowError `json:"errors,omitempty"`
}

// StudentAttendanceReport is the per-student attendance view.
type StudentAttendanceReport struct {
	Student    models.Student            `json:"student"`
	Attendance []models.AttendanceRecord `json:"attendance"`
	Statistics models.AttendanceStats    `json:"statistics"`
}

// StudentListRequest captures query parameters for listing students.
type StudentListRequest struct {
	Search   string `form:"search"`
	Class    string `form:"class"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

// ClassListRequest captures query parameters for listing classes.
type ClassListRequest struct {
	Search   string `form:"search"`
	Subject  string `form:"subject"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}
