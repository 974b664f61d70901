package protocol

import (
	"context"
	"time"
)

type nowKey struct{}

// WithNow pins the tick time for everything called under ctx. Oracle
// staleness checks and epoch gating read it through Now so one tick sees
// a single instant.
func WithNow(ctx context.Context, now time.Time) context.Context {
	return context.WithValue(ctx, nowKey{}, now)
}

// Now returns the pinned tick time, or the wall clock if none was set.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(nowKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}
