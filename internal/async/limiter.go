package async

import (
	"context"
	"sync"
	"sync/atomic"
)

// Task is one unit of fan-out work.
type Task[T any] func(ctx context.Context) (T, error)

// Result is one slot of a RunLimited batch. OK is false when the task
// returned an error; Value is then the zero value.
type Result[T any] struct {
	Value T
	OK    bool
}

// RunLimited executes tasks with at most limit of them in flight at once and
// returns results in input order. A failing task only blanks its own slot;
// sibling tasks run to completion regardless.
func RunLimited[T any](ctx context.Context, tasks []Task[T], limit int) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if limit > len(tasks) {
		limit = len(tasks)
	}
	if limit < 1 {
		limit = 1
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	wg.Add(limit)
	for w := 0; w < limit; w++ {
		go func() {
			defer wg.Done()
			for {
				cur := int(next.Add(1)) - 1
				if cur >= len(tasks) {
					return
				}
				v, err := tasks[cur](ctx)
				if err != nil {
					continue
				}
				results[cur] = Result[T]{Value: v, OK: true}
			}
		}()
	}
	wg.Wait()
	return results
}
