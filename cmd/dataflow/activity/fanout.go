package activity

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BranchResult is the outcome of one fan-out branch
type BranchResult[T any] struct {
	Key    string    `json:"key"`
	Output T         `json:"output,omitempty"`
	Error  *Envelope `json:"error,omitempty"`
}

// FanOut runs fn once per key with at most limit branches in flight. A
// failing branch is logged and reported in its result; it never cancels
// its siblings. Results are in key order.
func FanOut[T any](ctx context.Context, name string, limit int, keys []string, fn func(ctx context.Context, key string) (T, error), r *Registry) []BranchResult[T] {
	results := make([]BranchResult[T], len(keys))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, key := range keys {
		g.Go(func() error {
			results[i].Key = key
			output, err := fn(ctx, key)
			if err != nil {
				r.logger.Error("fan-out branch failed",
					"activity", name,
					"key", key,
					"error", err)
				r.metrics.RecordBranchFailure(name)
				results[i].Error = NewEnvelope(err)
				return nil
			}
			results[i].Output = output
			return nil
		})
	}

	// branches never return an error
	_ = g.Wait()
	return results
}

// FanOutSummary counts branch outcomes
type FanOutSummary[T any] struct {
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Results   []BranchResult[T] `json:"results"`
}

// Summarize wraps fan-out results with counts
func Summarize[T any](results []BranchResult[T]) *FanOutSummary[T] {
	s := &FanOutSummary[T]{Results: results}
	for _, r := range results {
		if r.Error != nil {
			s.Failed++
		} else {
			s.Succeeded++
		}
	}
	return s
}
