package database

import (
	"database/sql"
	"errors"
	"fmt"

	"kkt_deadline_bot/internal/domain/apperr"

	"github.com/lib/pq"
)

// PostgreSQL error codes the stores react to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Unique constraints whose violation is a caller mistake rather than a race.
const (
	constraintTypeName     = "deadline_types_name_key"
	constraintActiveSerial = "cash_registers_active_serial_key"
)

// mapError translates driver errors into the application error taxonomy. what names the
// entity for messages, e.g. "deadline 42".
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("%s", what)
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return fmt.Errorf("%s: %w", what, err)
	}
	switch pqErr.Code {
	case codeUniqueViolation:
		switch pqErr.Constraint {
		case constraintTypeName:
			return apperr.Validation("deadline type name is already taken")
		case constraintActiveSerial:
			return apperr.Validation("serial number is already used by an active register")
		}
		return fmt.Errorf("%w: %s: %s", apperr.ErrConflict, what, pqErr.Message)
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s: %s", apperr.ErrConflict, what, pqErr.Message)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s references a missing row (%s)", apperr.ErrNotFound, what, pqErr.Constraint)
	case codeCheckViolation:
		return fmt.Errorf("%w: %s: %s", apperr.ErrValidation, what, pqErr.Message)
	}
	return fmt.Errorf("%s: %w", what, err)
}
