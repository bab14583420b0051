package ratelimit

import (
	"fmt"
	"strconv"
	"time"
)

// Response headers describing the caller's budget.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers returns the rate-limit headers for result. Retry-After is only
// present on rejections.
func Headers(result Result, now time.Time) map[string]string {
	headers := map[string]string{
		HeaderLimit:     strconv.Itoa(result.Limit),
		HeaderRemaining: strconv.Itoa(result.Remaining),
		HeaderReset:     strconv.FormatInt(ceilDiv(result.ResetAt.UnixMilli(), 1000), 10),
	}
	if !result.Allowed {
		headers[HeaderRetryAfter] = strconv.FormatInt(RetryAfter(result, now), 10)
	}
	return headers
}

// RetryAfter is the number of whole seconds until the window resets, at least 1.
func RetryAfter(result Result, now time.Time) int64 {
	seconds := ceilDiv(result.ResetAt.Sub(now).Milliseconds(), 1000)
	if seconds < 1 {
		return 1
	}
	return seconds
}

// RejectionMessage is the human-readable text sent with a 429.
func RejectionMessage(retryAfter int64) string {
	return fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retryAfter)
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return a / b
	}
	return (a + b - 1) / b
}
