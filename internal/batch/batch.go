// Package batch drives bulk operations as a strictly sequential series of
// independent per-item calls.
//
// Sequential execution is the point, not a limitation: it bounds load on the
// shared store and on downstream notification side effects. A pacing policy
// sits between items as explicit backpressure.
package batch

import (
	"context"
)

// ItemResult is the outcome of one item, in submission order.
type ItemResult struct {
	Key string `json:"key"`
	Err error  `json:"-"`
}

// Succeeded reports whether the item completed without error.
func (r ItemResult) Succeeded() bool { return r.Err == nil }

// Progress is emitted after every item. Processed increases monotonically
// and reaches Total exactly once, whether or not every item succeeded.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// Report is the final batch outcome. It is ephemeral: the caller inspects
// it and decides whether to re-query aggregated state; nothing is persisted.
type Report struct {
	Results   []ItemResult
	Processed int
	Succeeded int
	Failed    int
}

// Failures returns the failed results only, preserving submission order.
func (r Report) Failures() []ItemResult {
	var out []ItemResult
	for _, res := range r.Results {
		if !res.Succeeded() {
			out = append(out, res)
		}
	}
	return out
}

type options struct {
	pacer    Pacer
	progress func(Progress)
}

// Option configures a Run call.
type Option func(*options)

// WithPacer sets the inter-item pacing policy. Without one, items run
// back to back.
func WithPacer(p Pacer) Option {
	return func(o *options) { o.pacer = p }
}

// WithProgress registers a callback invoked after every completed item.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.progress = fn }
}

// Run processes items one at a time against op. One item's failure never
// aborts the batch; every item is attempted and its outcome captured
// independently. A canceled context does not skip items either: the
// operation itself observes ctx and fails fast, and that failure is
// recorded like any other, so Processed still reaches len(items).
func Run[T any](ctx context.Context, items []T, key func(T) string, op func(context.Context, T) error, opts ...Option) Report {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	report := Report{Results: make([]ItemResult, 0, len(items))}
	total := len(items)

	for i, item := range items {
		if i > 0 && o.pacer != nil {
			o.pacer.Wait(ctx)
		}

		err := op(ctx, item)
		report.Results = append(report.Results, ItemResult{Key: key(item), Err: err})
		report.Processed++
		if err != nil {
			report.Failed++
		} else {
			report.Succeeded++
		}

		if o.progress != nil {
			o.progress(Progress{Processed: report.Processed, Total: total})
		}
	}
	return report
}
