package ratelimit

import (
	"fmt"
	"time"
)

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Current  int
	Limit    int
	Reason   string
}

// Check compares the current count against a limit.
func Check(count, limit int, window time.Duration) CheckResult {
	if limit <= 0 || window <= 0 {
		return CheckResult{Current: count}
	}
	if count >= limit {
		return CheckResult{
			Exceeded: true,
			Current:  count,
			Limit:    limit,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d requests in %s window",
				count, limit, window),
		}
	}
	return CheckResult{Current: count, Limit: limit}
}
