package dbx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "upload_jobs_one_active_per_account"}

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"any constraint", dup, "", true},
		{"named constraint", dup, "upload_jobs_one_active_per_account", true},
		{"wrapped", fmt.Errorf("exec: %w", dup), "", true},
		{"other constraint", dup, "upload_jobs_pkey", false},
		{"other code", &pgconn.PgError{Code: "23503"}, "", false},
		{"plain error", errors.New("db down"), "", false},
		{"nil", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err, tt.constraint))
		})
	}
}
