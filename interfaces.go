package kessai

import "context"

// NotificationSink receives escalation lifecycle notifications.
// Registered via WithNotificationSink; typical implementations forward to
// paging or chat systems. Deliver runs on the dispatch goroutine — it must
// not block indefinitely. Failures are logged, never retried.
type NotificationSink interface {
	Deliver(ctx context.Context, n Notification) error
}
