package jwkclient

import (
	"time"
)

// Observer receives refresh and validation outcomes, e.g. for metrics.
// Implementations must be cheap and must not block.
type Observer interface {
	RefreshCompleted(kind RefreshKind, keys int, took time.Duration, err error)
	ValidationCompleted(retried bool, err error)
}

type nopObserver struct{}

func (nopObserver) RefreshCompleted(RefreshKind, int, time.Duration, error) {}
func (nopObserver) ValidationCompleted(bool, error)                        {}
