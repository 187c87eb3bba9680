package common

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDefinitions(t *testing.T) {
	t.Parallel()

	errs := []error{
		ErrInvalidPath,
		ErrProtectedPath,
		ErrProtectedPathBlocked,
		ErrGone,
		ErrNotFound,
		ErrStoreUnavailable,
		ErrRemoteConflict,
		ErrInvalidToken,
		ErrTokenExpired,
		ErrTokenAlreadyUsed,
		ErrTokenMismatch,
	}

	t.Run("all errors are non-nil", func(t *testing.T) {
		t.Parallel()
		for i, err := range errs {
			require.NotNil(t, err, "error at index %d should not be nil", i)
		}
	})

	t.Run("all error messages are unique", func(t *testing.T) {
		t.Parallel()
		seen := make(map[string]bool)
		for _, err := range errs {
			msg := err.Error()
			assert.False(t, seen[msg], "duplicate error message: %s", msg)
			seen[msg] = true
		}
	})
}

func TestKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid path", ErrInvalidPath, "InvalidPath"},
		{"protected stage-time", ErrProtectedPath, "ProtectedPath"},
		{"protected commit-time", ErrProtectedPathBlocked, "ProtectedPathBlocked"},
		{"gone", ErrGone, "Gone"},
		{"not found", ErrNotFound, "NotFound"},
		{"store unavailable", ErrStoreUnavailable, "BackingStoreUnavailable"},
		{"remote conflict", ErrRemoteConflict, "RemoteConflict"},
		{"invalid token", ErrInvalidToken, "InvalidToken"},
		{"expired token", ErrTokenExpired, "TokenExpired"},
		{"used token", ErrTokenAlreadyUsed, "TokenAlreadyUsed"},
		{"mismatched token", ErrTokenMismatch, "TokenMismatch"},
		{"unknown", fmt.Errorf("boom"), "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}

	t.Run("wrapped errors keep their kind", func(t *testing.T) {
		t.Parallel()
		wrapped := fmt.Errorf("stage pricing.html: %w", ErrProtectedPath)
		assert.Equal(t, "ProtectedPath", Kind(wrapped))
	})
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, Retryable(ErrStoreUnavailable))
	assert.True(t, Retryable(fmt.Errorf("commit: %w", ErrStoreUnavailable)))
	assert.False(t, Retryable(ErrProtectedPathBlocked))
	// A conflict means the world changed, not that the call flaked.
	// Retrying the same stale write would lose the concurrent edit.
	assert.False(t, Retryable(ErrRemoteConflict))
	assert.False(t, Retryable(nil))
}

func TestStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 200, Status(nil))
	assert.Equal(t, 403, Status(ErrProtectedPath))
	assert.Equal(t, 409, Status(ErrRemoteConflict))
	assert.Equal(t, 409, Status(ErrTokenAlreadyUsed))
	assert.Equal(t, 500, Status(fmt.Errorf("boom")))
}
