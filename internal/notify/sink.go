// Package notify delivers failure reports for crashed and timed-out
// invocations. Delivery is best effort: Deliver never lets a sink's error or
// panic reach the caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks github.com/mattjoyce/warmbridge/internal/notify Sink

// Sink receives failure notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Nop discards notifications.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Notification) error { return nil }

// Fanout sends to every sink and joins their errors.
type Fanout []Sink

// Notify delivers n to each sink in order. One failing sink does not stop the rest.
func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := Deliver(ctx, nil, s, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deliver hands n to sink and reports what happened. The returned error is
// for accounting only; panics are recovered and converted to errors. Failures
// are logged at WARN when logger is non-nil.
func Deliver(ctx context.Context, logger *slog.Logger, sink Sink, n Notification) (err error) {
	if sink == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification sink panicked: %v", r)
		}
		if err != nil && logger != nil {
			logger.Warn("notification delivery failed",
				"notification_id", n.ID,
				"kind", n.Kind,
				"error", err,
			)
		}
	}()
	return sink.Notify(ctx, n)
}
