// Package ratelimit admits or denies shorten requests per client with a
// fixed-window counter kept in a shared store.
package ratelimit

import (
	"context"
	"time"
)

// Counter is the atomic primitive behind a fixed window. Take counts one
// request for key when the window holds fewer than limit, starting a fresh
// window of the given length when none is active. It reports the count after
// the call, whether the request was counted, and the time left in the window.
type Counter interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (count int, allowed bool, resetIn time.Duration, err error)
}
