package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/9ssi7/nanoid"
)

// CodeChecker reports whether a code has ever been issued.
type CodeChecker interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// reservedCodes are top-level route segments a short code must never shadow.
var reservedCodes = map[string]struct{}{
	"health":  {},
	"links":   {},
	"metrics": {},
	"shorten": {},
}

// Reserved reports whether code collides with a fixed route.
func Reserved(code string) bool {
	_, ok := reservedCodes[code]
	return ok
}

// CodeAllocator draws random URL-safe codes and skips ones already taken.
// Uniqueness is only guaranteed by the store's constraint; the check here
// keeps collisions away from the insert path.
type CodeAllocator struct {
	store      CodeChecker
	length     int
	maxRetries int
	generate   func() (string, error)
	opts       options
}

func NewCodeAllocator(store CodeChecker, length, maxRetries int, opts ...Option) *CodeAllocator {
	return &CodeAllocator{
		store:      store,
		length:     length,
		maxRetries: maxRetries,
		generate:   func() (string, error) { return nanoid.New() },
		opts:       newOptions(opts),
	}
}

// Allocate returns a code that was free at the time of the check.
func (a *CodeAllocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		code, err := a.candidate()
		if err != nil {
			return "", err
		}

		if !Reserved(code) {
			taken, err := a.store.Exists(ctx, code)
			if err != nil {
				return "", fmt.Errorf("check code %s: %w", code, err)
			}
			if !taken {
				return code, nil
			}
		}

		a.opts.metrics.AllocationCollision(ctx)
		a.opts.logger.DebugContext(ctx, "short code collision",
			slog.String("short_code", code),
			slog.Int("attempt", attempt),
		)
	}

	a.opts.metrics.AllocationExhausted(ctx)
	a.opts.logger.ErrorContext(ctx, "short code space exhausted",
		slog.Int("length", a.length),
		slog.Int("attempts", a.maxRetries),
	)
	return "", ErrAllocationExhausted
}

func (a *CodeAllocator) candidate() (string, error) {
	id, err := a.generate()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	if len(id) < a.length {
		return "", fmt.Errorf("generate code: got %d characters, need %d", len(id), a.length)
	}
	return id[:a.length], nil
}
