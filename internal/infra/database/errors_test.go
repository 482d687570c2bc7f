package database

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"kkt_deadline_bot/internal/domain/apperr"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, apperr.ErrNotFound},
		{"active deadline race", &pq.Error{Code: "23505", Constraint: "deadlines_active_register_type_key"}, apperr.ErrConflict},
		{"duplicate type name", &pq.Error{Code: "23505", Constraint: constraintTypeName}, apperr.ErrValidation},
		{"duplicate serial", &pq.Error{Code: "23505", Constraint: constraintActiveSerial}, apperr.ErrValidation},
		{"serialization failure", &pq.Error{Code: "40001"}, apperr.ErrConflict},
		{"deadlock", &pq.Error{Code: "40P01"}, apperr.ErrConflict},
		{"missing reference", &pq.Error{Code: "23503", Constraint: "deadlines_client_id_fkey"}, apperr.ErrNotFound},
		{"check violation", &pq.Error{Code: "23514"}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err, "deadline 1"), tt.want)
		})
	}

	assert.NoError(t, mapError(nil, "x"))

	plain := errors.New("connection refused")
	mapped := mapError(plain, "deadline 1")
	assert.ErrorIs(t, mapped, plain)
	assert.False(t, apperr.IsRetryable(mapped))
}
