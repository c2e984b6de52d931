package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttendanceStatusValid(t *testing.T) {
	assert.True(t, AttendanceStatusPresent.Valid())
	assert.True(t, AttendanceStatusLate.Valid())
	assert.False(t, AttendanceStatus("present").Valid())
	assert.False(t, AttendanceStatus("").Valid())
}

func TestUserRoleHelpers(t *testing.T) {
	assert.True(t, RoleTeacher.IsStaff())
	assert.False(t, RoleStudent.IsStaff())
	assert.False(t, UserRole("superadmin").Valid())
}

func TestSummariesCarryDisplayFields(t *testing.T) {
	s := Student{ID: "s1", Name: "Ana", RollNumber: "CS001", Class: "CS Y1", Email: "ana@u.edu"}
	assert.Equal(t, "CS001", s.Summary().RollNumber)
	c := Class{ID: "c1", Name: "Data Structures", Subject: "CS", Teacher: "Dr. J"}
	assert.Equal(t, "Dr. J", c.Summary().Teacher)
}
