package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// RunConcurrent starts n workers sharing ctx and fails t for every worker
// that returns an error or panics. It returns once all workers are done.
func RunConcurrent(t *testing.T, ctx context.Context, n int, fn func(ctx context.Context, worker int) error) {
	t.Helper()

	errs := make([]error, n)

	var wg sync.WaitGroup

	for worker := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[worker] = fmt.Errorf("panic: %v", r)
				}
			}()

			errs[worker] = fn(ctx, worker)
		}()
	}

	wg.Wait()

	for worker, err := range errs {
		if err != nil {
			t.Errorf("worker %d: %v", worker, err)
		}
	}
}
