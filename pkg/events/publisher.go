package events

import "context"

// LeasePublisher is the interface for publishing lease notifications.
// Delivery is fire-and-forget; callers log failures and carry on.
type LeasePublisher interface {
	PublishLease(ctx context.Context, event *LeaseEvent) error
}

// NoOpPublisher is a LeasePublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishLease is a no-op.
func (p *NoOpPublisher) PublishLease(_ context.Context, _ *LeaseEvent) error {
	return nil
}

// CallbackPublisher is a LeasePublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *LeaseEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *LeaseEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishLease calls the callback.
func (p *CallbackPublisher) PublishLease(ctx context.Context, event *LeaseEvent) error {
	return p.callback(ctx, event)
}
