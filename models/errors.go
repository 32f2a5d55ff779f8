package models

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrConcurrentModification is returned when an optimistic-lock version
	// check fails. Distinct from guard violations: the caller should reload
	// and retry, not fix the request.
	ErrConcurrentModification = errors.New("record was modified concurrently, reload and retry")

	// ErrSegregationOfDuties is returned when the checker acting on an
	// incident is the same user who submitted the resolution.
	ErrSegregationOfDuties = errors.New("checker must be different from the maker who submitted the resolution")

	// ErrRunAlreadyActive is returned when a trigger hits a config that
	// already has a non-terminal run. Triggers are rejected, never queued.
	ErrRunAlreadyActive = errors.New("an active run already exists for this config")

	// ErrRunNoLongerActive is returned when a phase update finds the run
	// already terminal, usually because an operator cancelled it.
	ErrRunNoLongerActive = errors.New("run reached a terminal status concurrently")
)

// GuardViolationError reports an incident transition attempted from a status
// that does not permit it, or by a user who may not perform it.
type GuardViolationError struct {
	Action  IncidentAction
	From    IncidentStatus
	Message string
}

func (e *GuardViolationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("action %s is not allowed from status %s", e.Action, e.From)
}

func NewGuardViolation(action IncidentAction, from IncidentStatus, format string, args ...interface{}) error {
	return &GuardViolationError{Action: action, From: from, Message: fmt.Sprintf(format, args...)}
}

// DuplicateRecordKeyError aborts a reconciliation run when one side of the
// extraction yields two records with the same composite key. It is permanent:
// the run fails and is never retried.
type DuplicateRecordKeyError struct {
	Side string // "source" or "target"
	Key  string
}

func (e *DuplicateRecordKeyError) Error() string {
	return fmt.Sprintf("duplicate record key %q in %s dataset", e.Key, e.Side)
}

// TransientError wraps an extraction failure that is worth retrying with
// backoff (connection refused, timeout, HTTP 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsDuplicateKeyErr reports a MySQL unique-constraint violation (error 1062).
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
