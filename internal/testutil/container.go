package testutil

import (
	"context"
	"errors"

	"github.com/testcontainers/testcontainers-go"
)

// abort terminates a half-initialized container and returns cause together
// with any termination failure.
func abort(ctx context.Context, c testcontainers.Container, cause error) error {
	if terr := c.Terminate(ctx); terr != nil {
		return errors.Join(cause, terr)
	}
	return cause
}
