// Package clicks counts redirects without ever delaying them.
package clicks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zhejian/url-shortener/shortlink/internal/observability"
)

const DefaultTimeout = 500 * time.Millisecond

// Recorder accepts one click for code and returns immediately.
type Recorder interface {
	Record(ctx context.Context, code string)
}

// Incrementer is the storage side of a click.
type Incrementer interface {
	IncrementClicks(ctx context.Context, code string) error
}

type options struct {
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

type Option func(*options)

// WithTimeout bounds each increment or publish.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) options {
	o := options{timeout: DefaultTimeout, logger: observability.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DirectRecorder increments the stored counter from a background goroutine.
// Failures are logged and dropped, never retried.
type DirectRecorder struct {
	store Incrementer
	opts  options
	wg    sync.WaitGroup
}

func NewDirectRecorder(store Incrementer, opts ...Option) *DirectRecorder {
	return &DirectRecorder{store: store, opts: newOptions(opts)}
}

func (r *DirectRecorder) Record(ctx context.Context, code string) {
	// The request context is cancelled once the redirect is written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.timeout)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		if err := r.store.IncrementClicks(ctx, code); err != nil {
			r.opts.metrics.ClickDropped(ctx, dropReason(ctx))
			r.opts.logger.WarnContext(ctx, "click dropped",
				slog.String("short_code", code),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until in-flight increments finish.
func (r *DirectRecorder) Wait() {
	r.wg.Wait()
}

func dropReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return "timeout"
	}
	return "error"
}

var _ Recorder = (*DirectRecorder)(nil)
