package authz

import "github.com/noah-isme/attendance-api/internal/models"

// Operation names a guarded capability.
type Operation string

const (
	StudentRead     Operation = "student:read"
	StudentWrite    Operation = "student:write"
	ClassRead       Operation = "class:read"
	ClassWrite      Operation = "class:write"
	AttendanceRead  Operation = "attendance:read"
	AttendanceWrite Operation = "attendance:write"
	UserManage      Operation = "user:manage"
)

// Policy decides whether role may perform op.
type Policy func(role models.UserRole, op Operation) bool

var readOperations = map[Operation]struct{}{
	StudentRead:    {},
	ClassRead:      {},
	AttendanceRead: {},
}

// DefaultPolicy lets every authenticated role read, staff write, and only admins manage accounts.
func DefaultPolicy(role models.UserRole, op Operation) bool {
	if !role.Valid() {
		return false
	}
	if _, ok := readOperations[op]; ok {
		return true
	}
	switch op {
	case StudentWrite, ClassWrite, AttendanceWrite:
		return role.IsStaff()
	case UserManage:
		return role == models.RoleAdmin
	default:
		return false
	}
}
