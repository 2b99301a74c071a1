package jwkclient

import "time"

// RefreshKind distinguishes time-based refreshes from failure-triggered ones.
type RefreshKind int

const (
	RefreshProactive RefreshKind = iota + 1
	RefreshReactive
)

func (k RefreshKind) String() string {
	switch k {
	case RefreshProactive:
		return "proactive"
	case RefreshReactive:
		return "reactive"
	default:
		return "unknown"
	}
}

const (
	DefaultProactiveRefreshInterval = time.Hour
	DefaultRetryCooldown            = 5 * time.Minute
)

// IsStale reports whether cached keys are older than interval, or were never fetched.
func IsStale(lastProactive, now time.Time, interval time.Duration) bool {
	return lastProactive.IsZero() || now.Sub(lastProactive) > interval
}

// MayRetry reports whether a failure-triggered refresh is allowed at now.
func MayRetry(lastReactive, now time.Time, cooldown time.Duration) bool {
	return lastReactive.IsZero() || now.Sub(lastReactive) > cooldown
}
