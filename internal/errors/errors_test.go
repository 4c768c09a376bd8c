package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmanError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("permission denied")

	// When: wrapping with AmanError
	amanErr := New(ErrCodeFilePermission, "cannot read directory", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, amanErr)
	assert.Equal(t, originalErr, errors.Unwrap(amanErr))
	assert.True(t, errors.Is(amanErr, originalErr))
}

func TestAmanError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "swap error",
			code:     ErrCodeSwapFailed,
			message:  "promote staging failed",
			expected: "[ERR_506_SWAP_FAILED] promote staging failed",
		},
		{
			name:     "still indexing",
			code:     ErrCodeStillIndexing,
			message:  "first build in progress",
			expected: "[ERR_509_STILL_INDEXING] first build in progress",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestAmanError_Is_MatchesByCode(t *testing.T) {
	err := New(ErrCodeCrawlTimeout, "crawl exceeded 1h", nil)
	target := New(ErrCodeCrawlTimeout, "", nil)

	assert.True(t, errors.Is(err, target))
	assert.False(t, errors.Is(err, New(ErrCodeNoRoots, "", nil)))
}

func TestAmanError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code string
		want Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeRootUnreachable, CategoryIO},
		{ErrCodeStateUnreadable, CategoryIO},
		{ErrCodeInvalidPath, CategoryValidation},
		{ErrCodeSwapFailed, CategoryInternal},
		{"BAD", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "", nil).Category)
		})
	}
}

func TestAmanError_SeverityAndRetryable(t *testing.T) {
	assert.Equal(t, SeverityFatal, New(ErrCodeCorruptIndex, "", nil).Severity)
	assert.Equal(t, SeverityInfo, New(ErrCodeStillIndexing, "", nil).Severity)
	assert.Equal(t, SeverityWarning, New(ErrCodeCrawlTimeout, "", nil).Severity)
	assert.Equal(t, SeverityError, New(ErrCodeIndexFailed, "", nil).Severity)

	assert.True(t, New(ErrCodeSwapFailed, "", nil).Retryable)
	assert.False(t, New(ErrCodeIndexFailed, "", nil).Retryable)
}

func TestHelpers_LookThroughWrappedChains(t *testing.T) {
	// Given: an AmanError wrapped by fmt.Errorf
	inner := SwapError("rename failed", errors.New("busy"))
	wrapped := fmt.Errorf("rebuild: %w", inner)

	// Then: helpers find it in the chain
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsFatal(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeSwapFailed))
	assert.Equal(t, CategoryInternal, GetCategory(wrapped))
	assert.NotEmpty(t, inner.Suggestion)

	assert.Equal(t, "", GetCode(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))

	err := Wrap(ErrCodeIndexFailed, errors.New("commit failed"))
	assert.Equal(t, "commit failed", err.Message)
}

func TestWithDetail_AddsContext(t *testing.T) {
	err := BuildError("writer open failed", nil).
		WithDetail("location", "/tmp/gen-1").
		WithDetail("backend", "bleve")

	assert.Equal(t, "/tmp/gen-1", err.Details["location"])
	assert.Equal(t, "bleve", err.Details["backend"])
}

func TestFormatForCLI(t *testing.T) {
	out := FormatForCLI(SwapError("promote failed", nil))
	assert.Contains(t, out, "Error: promote failed")
	assert.Contains(t, out, "Hint: run 'amanfind index --force'")
	assert.Contains(t, out, "Code: ERR_506_SWAP_FAILED")

	plain := FormatForCLI(errors.New("boom"))
	assert.Contains(t, plain, "Code: ERR_501_INTERNAL")

	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatJSON(t *testing.T) {
	data, err := FormatJSON(New(ErrCodeStillIndexing, "first build in progress", errors.New("cause")))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeStillIndexing, decoded["code"])
	assert.Equal(t, "cause", decoded["cause"])
	assert.Equal(t, true, decoded["retryable"])
}

func TestRetry_SucceedsOnSecondAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryOnce(time.Millisecond), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("handle still open")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	cause := errors.New("still busy")
	err := Retry(context.Background(), RetryOnce(time.Millisecond), func() error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 2, attempts)
}

func TestRetry_RespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
