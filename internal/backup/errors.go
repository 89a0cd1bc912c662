// Package backup creates, validates and records database dumps and directory
// archives for the freightdesk back office.
package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrDumpToolNotFound is returned when no mysqldump or mariadb-dump binary can be located.
	ErrDumpToolNotFound = errors.New("database dump tool not found")
	// ErrAccessDenied is returned when the database server rejects the dump credentials.
	ErrAccessDenied = errors.New("database access denied")
	// ErrUnknownDatabase is returned when the configured database does not exist.
	ErrUnknownDatabase = errors.New("unknown database")
	// ErrNotADirectory is returned when a backup source is missing or not a directory.
	ErrNotADirectory = errors.New("not a directory")
	// ErrEmptyOutput is returned when a dump or archive was written but is empty.
	ErrEmptyOutput = errors.New("output file is missing or empty")
	// ErrValidationFailed is returned when a created artifact fails its integrity check.
	ErrValidationFailed = errors.New("artifact failed validation")
	// ErrBackupLocked is returned when another backup run holds the run lock.
	ErrBackupLocked = errors.New("another backup is already running")
)

// ErrorKind classifies orchestrator failures.
type ErrorKind string

const (
	// KindConfig is an invalid or missing configuration value.
	KindConfig ErrorKind = "config"
	// KindToolMissing is a missing external dump tool.
	KindToolMissing ErrorKind = "tool_missing"
	// KindOperation is a failed dump, archive or store operation.
	KindOperation ErrorKind = "operation"
	// KindValidation is an artifact that was created but failed its integrity check.
	KindValidation ErrorKind = "validation"
	// KindInvalidRequest is a malformed backup request.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindLocked is a request rejected because another run is active.
	KindLocked ErrorKind = "locked"
)

// Error is a classified backup failure for one component of a run.
type Error struct {
	Kind      ErrorKind
	Component string
	Err       error
}

func (e *Error) Error() string {
	if e.Component == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s backup failed: %v", e.Component, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind carried by err, or KindOperation when err is unclassified.
func KindOf(err error) ErrorKind {
	var be *Error
	switch {
	case errors.As(err, &be):
		return be.Kind
	case errors.Is(err, ErrDumpToolNotFound):
		return KindToolMissing
	case errors.Is(err, ErrValidationFailed):
		return KindValidation
	case errors.Is(err, ErrBackupLocked):
		return KindLocked
	default:
		return KindOperation
	}
}
