package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// WaitFor polls condition until it holds or timeout passes.
func WaitFor(t testing.TB, description string, timeout time.Duration, condition func() bool) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("condition '%s' not met within %v", description, timeout)
}

// WaitForWithContext polls condition until it holds or ctx ends.
func WaitForWithContext(ctx context.Context, t testing.TB, description string, condition func() bool) error {
	t.Helper()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("context ended while waiting for '%s': %w", description, ctx.Err())
		case <-ticker.C:
		}
	}
}
