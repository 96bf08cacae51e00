// Package async provides helpers for running independent tasks concurrently.
package async

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Task is a named unit of concurrent work.
type Task struct {
	Name string
	Func func(context.Context) error
}

// RunParallel starts every task, waits for all of them, and returns the
// joined errors of those that failed. Task order in the error output is
// stable (sorted by name) so log lines are comparable across runs.
func RunParallel(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
		wg       sync.WaitGroup
	)

	for _, task := range tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			if err := task.Func(ctx); err != nil {
				mu.Lock()
				failures[task.Name] = err
				mu.Unlock()
			}
		}(task)
	}
	wg.Wait()

	if len(failures) == 0 {
		return nil
	}

	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, 0, len(failures))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, failures[name]))
	}
	return errors.Join(errs...)
}
