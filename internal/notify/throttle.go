package notify

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when a notification is dropped by Throttle.
var ErrThrottled = errors.New("notification throttled")

// Throttle caps how often notifications reach Next. A crash-looping worker
// would otherwise produce one report per invocation.
type Throttle struct {
	Next    Sink
	limiter *rate.Limiter
}

// NewThrottle allows burst notifications immediately and one more per every.
// A non-positive every disables throttling.
func NewThrottle(next Sink, every time.Duration, burst int) *Throttle {
	limit := rate.Inf
	if every > 0 {
		limit = rate.Every(every)
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{Next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Notify forwards n if the limiter allows it.
func (t *Throttle) Notify(ctx context.Context, n Notification) error {
	if !t.limiter.Allow() {
		return ErrThrottled
	}
	return t.Next.Notify(ctx, n)
}
