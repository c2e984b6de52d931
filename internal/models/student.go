package models

import "time"

// Student represents a learner tracked by the attendance register.
type Student struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	RollNumber string    `db:"roll_number" json:"rollNumber"`
	Class      string    `db:"class" json:"class"`
	Email      string    `db:"email" json:"email"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search   string
	Class    string
	Page     int
	PageSize int
}

// StudentSummary is the denormalised student shape attached to attendance records.
type StudentSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RollNumber string `json:"rollNumber"`
	Class      string `json:"class"`
	Email      string `json:"email,omitempty"`
}

// Summary projects the student into its attendance summary.
func (s Student) Summary() *StudentSummary {
	return &StudentSummary{ID: s.ID, Name: s.Name, RollNumber: s.RollNumber, Class: s.Class, Email: s.Email}
}
