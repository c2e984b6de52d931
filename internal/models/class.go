package models

import "time"

// Class represents a course section attendance is taken for.
type Class struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Subject   string    `db:"subject" json:"subject"`
	Teacher   string    `db:"teacher" json:"teacher"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	Search   string
	Subject  string
	Page     int
	PageSize int
}

// ClassSummary is the denormalised class shape attached to attendance records.
type ClassSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Teacher string `json:"teacher"`
}

// Summary projects the class into its attendance summary.
func (c Class) Summary() *ClassSummary {
	return &ClassSummary{ID: c.ID, Name: c.Name, Subject: c.Subject, Teacher: c.Teacher}
}
