package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/lease_backend/utils"
	"gorm.io/gorm"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrForbiddenActor    = errors.New("acting identity is not the required party")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = utils.ErrorRecordNotFound
)

// ValidationError is returned before any write when input is unusable.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func newValidationError(message string, fields map[string]string) error {
	return &ValidationError{Message: message, Fields: fields}
}

// TransitionError reports an action that is not legal from the current state,
// or an acting identity that does not match the required party. State is untouched.
type TransitionError struct {
	Entity    string
	Action    string
	From      string
	Reason    string
	Forbidden bool
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s not allowed from %q", e.Entity, e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool {
	if target == ErrInvalidTransition {
		return true
	}
	return e.Forbidden && target == ErrForbiddenActor
}

func invalidTransition(entity, action, from, reason string) error {
	return &TransitionError{Entity: entity, Action: action, From: from, Reason: reason}
}

func forbiddenActor(entity, action, from, party string) error {
	return &TransitionError{Entity: entity, Action: action, From: from, Reason: "only the " + party + " may do this", Forbidden: true}
}

func conflictError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func notFound(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}

// IsDuplicateKeyErr covers translated gorm errors, raw mysql 1062 and untranslated sqlite errors.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
