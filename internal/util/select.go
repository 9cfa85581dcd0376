package util

import (
	"context"
)

// Sel runs f and returns its error, or the context error if ctx is done
// first. f keeps running in the background after an early return, so the
// caller must treat whatever f was using as unusable.
func Sel(ctx context.Context, f func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var d = make(chan error, 1)
	go func() {
		d <- f()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-d:
		return err
	}
}
