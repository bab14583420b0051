package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeaders(t *testing.T) {
	now := time.UnixMilli(1_700_000_010_000)
	resetAt := time.UnixMilli(1_700_000_040_000)

	tests := []struct {
		name   string
		result Result
		want   map[string]string
	}{
		{
			name:   "allowed",
			result: Result{Allowed: true, Limit: 5, Remaining: 3, ResetAt: resetAt},
			want: map[string]string{
				HeaderLimit:     "5",
				HeaderRemaining: "3",
				HeaderReset:     "1700000040",
			},
		},
		{
			name:   "rejected",
			result: Result{Allowed: false, Limit: 5, Remaining: 0, ResetAt: resetAt},
			want: map[string]string{
				HeaderLimit:      "5",
				HeaderRemaining:  "0",
				HeaderReset:      "1700000040",
				HeaderRetryAfter: "30",
			},
		},
		{
			name:   "reset rounds up to whole seconds",
			result: Result{Allowed: true, Limit: 1, Remaining: 0, ResetAt: time.UnixMilli(1_700_000_040_001)},
			want: map[string]string{
				HeaderLimit:     "1",
				HeaderRemaining: "0",
				HeaderReset:     "1700000041",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Headers(tt.result, now))
		})
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.UnixMilli(10_000)
	assert.Equal(t, int64(1), RetryAfter(Result{ResetAt: time.UnixMilli(10_200)}, now))
	assert.Equal(t, int64(2), RetryAfter(Result{ResetAt: time.UnixMilli(11_001)}, now))
	assert.Equal(t, int64(1), RetryAfter(Result{ResetAt: now}, now), "never below one second")
}

func TestRejectionMessage(t *testing.T) {
	assert.Equal(t, "Rate limit exceeded. Try again in 30 seconds.", RejectionMessage(30))
}
