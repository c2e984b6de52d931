package dto

import "github.com/noah-isme/attendance-api/internal/models"

// BulkItemError reports one pair of a bulk mark request that could not be written.
type BulkItemError struct {
	StudentID string `json:"studentId"`
	Error     string `json:"error"`
}

// BulkMarkResult carries the written records and per-pair failures of a bulk mark.
type BulkMarkResult struct {
	Records []models.AttendanceRecord `json:"records"`
	Errors  []BulkItemError           `json:"errors,omitempty"`
	Created int                       `json:"created"`
	Updated int                       `json:"updated"`
}

// StatsRequest bounds the statistics overview.
type StatsRequest struct {
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
}

// AttendanceListRequest captures query parameters for listing attendance.
type AttendanceListRequest struct {
	StudentID string `form:"studentId"`
	ClassID   string `form:"classId"`
	Date      string `form:"date"`
	Status    string `form:"status"`
}

// AttendanceExportRequest captures query parameters for exporting attendance.
type AttendanceExportRequest struct {
	StudentID string `form:"studentId"`
	ClassID   string `form:"classId"`
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
	Format    string `form:"format"`
}
