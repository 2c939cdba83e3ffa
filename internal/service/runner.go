package service

import "context"

// TaskRunner schedules fire-and-forget work. *async.Runner satisfies it.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error)
}
