package llm

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RateLimitInfo describes when a throttled request may be retried.
type RateLimitInfo struct {
	DetectedAt time.Time
	ResetAt    time.Time
	RawMessage string
	Source     string // "retry-after", "reset-header", "body", "default"
}

// TimeUntilReset returns the remaining wait, zero when already reset.
func (r *RateLimitInfo) TimeUntilReset() time.Duration {
	if r.ResetAt.IsZero() {
		return 0
	}
	if d := time.Until(r.ResetAt); d > 0 {
		return d
	}
	return 0
}

var (
	retrySecondsPattern = regexp.MustCompile(`(?i)retry (?:in|after)\s+(\d+)\s*(?:seconds?|s)\b`)
	rateLimitIndicator  = regexp.MustCompile(`(?i)(rate.?limit|429|too.?many.?requests|overloaded)`)
)

// defaultRateLimitWait applies when a throttled response carries no hint.
const defaultRateLimitWait = 30 * time.Second

// resetHeaders are Anthropic's per-bucket reset timestamps (RFC 3339).
var resetHeaders = []string{
	"anthropic-ratelimit-requests-reset",
	"anthropic-ratelimit-tokens-reset",
	"anthropic-ratelimit-input-tokens-reset",
	"anthropic-ratelimit-output-tokens-reset",
}

// ParseRateLimit extracts retry timing from a throttled response.
// It returns nil when the response does not look rate limited.
func ParseRateLimit(status int, header http.Header, body string) *RateLimitInfo {
	if status != http.StatusTooManyRequests && status != 529 && !rateLimitIndicator.MatchString(body) {
		return nil
	}

	now := time.Now()
	info := &RateLimitInfo{DetectedAt: now, RawMessage: body}

	if header != nil {
		if v := strings.TrimSpace(header.Get("retry-after")); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				info.ResetAt = now.Add(time.Duration(secs) * time.Second)
				info.Source = "retry-after"
				return info
			}
			if t, err := http.ParseTime(v); err == nil {
				info.ResetAt = t
				info.Source = "retry-after"
				return info
			}
		}

		// Take the latest bucket reset, since every exhausted bucket must clear.
		var latest time.Time
		for _, h := range resetHeaders {
			if v := header.Get(h); v != "" {
				if t, err := time.Parse(time.RFC3339, v); err == nil && t.After(latest) {
					latest = t
				}
			}
		}
		if !latest.IsZero() {
			info.ResetAt = latest
			info.Source = "reset-header"
			return info
		}
	}

	if m := retrySecondsPattern.FindStringSubmatch(body); len(m) > 1 {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			info.ResetAt = now.Add(time.Duration(secs) * time.Second)
			info.Source = "body"
			return info
		}
	}

	info.ResetAt = now.Add(defaultRateLimitWait)
	info.Source = "default"
	return info
}

// RateLimitWaiter decides whether to sleep through a rate limit and does so.
type RateLimitWaiter struct {
	maxWait      time.Duration
	safetyBuffer time.Duration
	logger       Logger
}

// NewRateLimitWaiter creates a waiter. Waits longer than maxWait are refused.
func NewRateLimitWaiter(maxWait, safetyBuffer time.Duration, logger Logger) *RateLimitWaiter {
	return &RateLimitWaiter{maxWait: maxWait, safetyBuffer: safetyBuffer, logger: logger}
}

// ShouldWait reports whether the reset is close enough to wait for.
func (w *RateLimitWaiter) ShouldWait(info *RateLimitInfo) bool {
	if info == nil {
		return false
	}
	return info.TimeUntilReset() <= w.maxWait
}

// TimeUntilResume is the total sleep including the safety buffer.
func (w *RateLimitWaiter) TimeUntilResume(info *RateLimitInfo) time.Duration {
	if info == nil {
		return 0
	}
	return info.TimeUntilReset() + w.safetyBuffer
}

// WaitForReset blocks until the limit resets or ctx is done.
func (w *RateLimitWaiter) WaitForReset(ctx context.Context, info *RateLimitInfo) error {
	wait := w.TimeUntilResume(info)
	if wait <= 0 {
		return nil
	}
	if w.logger != nil {
		w.logger.LogWarn(fmt.Sprintf("Model rate limited (%s), waiting %s", info.Source, wait.Round(time.Second)))
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
