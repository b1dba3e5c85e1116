package errors

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(cause, ErrCodeInternal, "refresh failed")

	require.NotNil(t, err)
	assert.Equal(t, "refresh failed: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsInternal(err))
	assert.Equal(t, ErrCodeInternal, GetCode(err))
}

func TestAppErrorWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "noop"))
	assert.Nil(t, Wrapf(nil, ErrCodeInternal, "noop %d", 1))
}

func TestCodePredicates(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("missing")))
	assert.True(t, IsConflict(Conflict("dup")))
	assert.True(t, IsValidation(Validation("bad")))
	assert.True(t, IsUnauthorized(Unauthorized("revoked")))
	assert.True(t, IsRateLimited(RateLimited("ceiling")))
	assert.False(t, IsNotFound(fmt.Errorf("plain")))
	assert.Equal(t, ErrorCode(""), GetCode(fmt.Errorf("plain")))
}

func TestCodePredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("load account: %w", NotFound("account missing"))
	assert.True(t, IsNotFound(err))
}

func TestMapDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"no rows", sql.ErrNoRows, ErrCodeNotFound},
		{"no rows pgx", pgx.ErrNoRows, ErrCodeNotFound},
		{"no rows wrapped", fmt.Errorf("load post: %w", sql.ErrNoRows), ErrCodeNotFound},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeCanceled},
		{"unique", &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "post_history_external_id_key"}, ErrCodeConflict},
		{"foreign key", &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}, ErrCodeConflict},
		{"check", &pgconn.PgError{Code: pgerrcode.CheckViolation}, ErrCodeValidation},
		{"not null", &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "platform"}, ErrCodeValidation},
		{"other pg error", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapDBError(tt.err)
			assert.Equal(t, tt.want, GetCode(mapped))
			assert.ErrorIs(t, mapped, tt.err)
		})
	}
}

func TestMapDBErrorPassthrough(t *testing.T) {
	plain := fmt.Errorf("not a db error")
	assert.Same(t, plain, MapDBError(plain))
	assert.Nil(t, MapDBError(nil))
}

func TestPublishErrorDuplicate(t *testing.T) {
	err := &PublishError{
		Platform:    "LINKEDIN",
		StatusCode:  422,
		Message:     "duplicate of urn:li:share:123",
		RecoveredID: "urn:li:share:123",
	}
	assert.True(t, err.Duplicate())

	wrapped := fmt.Errorf("publish feed: %w", err)
	got, ok := AsPublishError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "urn:li:share:123", got.RecoveredID)
}

func TestPublishErrorMessage(t *testing.T) {
	err := &PublishError{Platform: "LINKEDIN", StatusCode: 429, Message: "throttled"}
	assert.Equal(t, "LINKEDIN publish failed (429): throttled", err.Error())

	transport := &PublishError{Platform: "X", Cause: fmt.Errorf("dial tcp: timeout")}
	assert.Equal(t, "X publish failed: dial tcp: timeout", transport.Error())
}
