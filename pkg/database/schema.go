package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements create the tables in dependency order. Every statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS students (
        id UUID PRIMARY KEY,
        name TEXT NOT NULL,
        roll_number TEXT NOT NULL,
        class TEXT NOT NULL,
        email TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        CONSTRAINT students_roll_number_key UNIQUE (roll_number),
        CONSTRAINT students_email_key UNIQUE (email)
    )`,
	`CREATE TABLE IF NOT EXISTS classes (
        id UUID PRIMARY KEY,
        name TEXT NOT NULL,
        subject TEXT NOT NULL,
        teacher TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE TABLE IF NOT EXISTS attendance (
        id UUID PRIMARY KEY,
        student_id UUID NOT NULL REFERENCES students(id) ON DELETE RESTRICT,
        class_id UUID NOT NULL,
        date DATE NOT NULL,
        status TEXT NOT NULL CHECK (status IN ('Present', 'Absent', 'Late')),
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_student_class_date_key ON attendance (student_id, class_id, date)`,
	`CREATE INDEX IF NOT EXISTS attendance_date_idx ON attendance (date DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
        id UUID PRIMARY KEY,
        name TEXT NOT NULL,
        email TEXT NOT NULL,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('admin', 'teacher', 'student')),
        student_id UUID REFERENCES students(id) ON DELETE SET NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        CONSTRAINT users_email_key UNIQUE (email),
        CONSTRAINT users_student_id_key UNIQUE (student_id)
    )`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
        id UUID PRIMARY KEY,
        user_id UUID,
        action TEXT NOT NULL,
        resource TEXT NOT NULL,
        resource_id TEXT,
        payload JSONB,
        ip_address TEXT,
        user_agent TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
}

// EnsureSchema creates the attendance tables and indexes when they are missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
