// Package batch applies a function to a list of inputs on a fixed pool of
// goroutines. Every result is tagged with the index and identity of its input
// and returned in input order, whatever order the workers finish in.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// ErrDuplicateName is returned when two inputs would write the same output name.
var ErrDuplicateName = errors.New("input file names are not unique")

// Mode selects what happens when one input fails.
type Mode int

const (
	// FailFast stops dispatching after the first error and returns it.
	FailFast Mode = iota
	// ContinueOnError records each error on its item and processes everything.
	ContinueOnError
)

// Item is the outcome of applying the function to one input.
type Item[R any] struct {
	Index int
	Input string
	Value R
	Err   error
}

// DefaultWorkers returns every available CPU but one, and at least one.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// ClampWorkers bounds workers to [1, NumCPU] and to the number of inputs.
func ClampWorkers(workers, inputs int) int {
	if limit := runtime.NumCPU(); workers > limit {
		workers = limit
	}
	if inputs > 0 && workers > inputs {
		workers = inputs
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// Map applies fn to every input using at most workers goroutines.
//
// In FailFast mode the first error cancels the remaining work and is
// returned naming the input that caused it; the items
// are nil. In ContinueOnError mode the returned error is always nil and
// failures are reported on the individual items.
func Map[R any](ctx context.Context, inputs []string, workers int, mode Mode, fn func(string) (R, error)) ([]Item[R], error) {
	items := make([]Item[R], len(inputs))
	if len(inputs) == 0 {
		return items, nil
	}
	workers = ClampWorkers(workers, len(inputs))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	results := make(chan Item[R])

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				value, err := fn(inputs[idx])
				results <- Item[R]{Index: idx, Input: inputs[idx], Value: value, Err: err}
			}
		}()
	}

	// Feed jobs until everything is dispatched or the batch is cancelled
	go func() {
		defer close(jobs)
		for idx := range inputs {
			select {
			case jobs <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	completed := 0
	for res := range results {
		completed++
		if res.Err != nil && mode == FailFast {
			if firstErr == nil {
				firstErr = nameInput(res.Input, res.Err)
				cancel()
			}
			continue
		}
		items[res.Index] = res
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil && completed < len(inputs) {
		return nil, err
	}
	return items, nil
}

// nameInput prefixes err with input unless its message already names it
func nameInput(input string, err error) error {
	if strings.Contains(err.Error(), input) {
		return err
	}
	return fmt.Errorf("%s: %w", input, err)
}

// UniqueStems checks that no two paths map to the same name under key,
// which typically strips directory and extension. Paths sharing a key would
// overwrite each other's output.
func UniqueStems(paths []string, key func(string) string) error {
	seen := make(map[string]string, len(paths))
	var dups []string
	for _, p := range paths {
		k := key(p)
		if first, ok := seen[k]; ok {
			dups = append(dups, fmt.Sprintf("%s and %s", first, p))
			continue
		}
		seen[k] = p
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return fmt.Errorf("%w: %v", ErrDuplicateName, dups)
	}
	return nil
}
