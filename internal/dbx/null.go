package dbx

import (
	"database/sql"
	"fmt"
	"time"
)

// NullTime maps the zero time to SQL NULL.
func NullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// TimeOf is the inverse of NullTime.
func TimeOf(n sql.NullTime) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return n.Time.UTC()
}

// NullInt64 maps a nil pointer to SQL NULL.
func NullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// Int64Of is the inverse of NullInt64.
func Int64Of(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// ExactlyOne checks that res affected a single row. Zero rows yield onZero.
func ExactlyOne(res sql.Result, onZero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return onZero
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
