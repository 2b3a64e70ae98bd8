package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/observability"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	defaultBatchLimit       = 100
	defaultSendTimeout      = 10 * time.Second
	defaultClaimLease       = 10 * time.Minute
	defaultBatchConcurrency = 4
	maxStoredErrorLength    = 2000
)

// BatchOptions bounds one retry batch.
type BatchOptions struct {
	Limit       int
	SendTimeout time.Duration
	Lease       time.Duration
	Concurrency int
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.Limit <= 0 {
		o.Limit = defaultBatchLimit
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.Lease <= 0 {
		o.Lease = defaultClaimLease
	}
	// A lease shorter than the send timeout would let another run claim a row mid-send.
	if o.Lease < 2*o.SendTimeout {
		o.Lease = 2 * o.SendTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultBatchConcurrency
	}
	return o
}

// BatchResult aggregates one retry batch. Processed counts attempted rows, so
// Processed == Successful + Failed + GaveUp. Skipped rows were not attempted.
type BatchResult struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	GaveUp     int `json:"gaveUp"`
	Skipped    int `json:"skipped"`
}

func (r *BatchResult) record(o itemOutcome) {
	switch o {
	case outcomeSuccessful:
		r.Processed++
		r.Successful++
	case outcomeFailed:
		r.Processed++
		r.Failed++
	case outcomeGaveUp:
		r.Processed++
		r.GaveUp++
	default:
		r.Skipped++
	}
}

func (r BatchResult) fields() []zap.Field {
	return []zap.Field{
		zap.Int("processed", r.Processed),
		zap.Int("successful", r.Successful),
		zap.Int("failed", r.Failed),
		zap.Int("gaveUp", r.GaveUp),
		zap.Int("skipped", r.Skipped),
	}
}

type itemOutcome int

const (
	outcomeSkipped itemOutcome = iota
	outcomeSuccessful
	outcomeFailed
	outcomeGaveUp
)

func (o itemOutcome) String() string {
	switch o {
	case outcomeSuccessful:
		return "successful"
	case outcomeFailed:
		return "failed"
	case outcomeGaveUp:
		return "gave_up"
	default:
		return "skipped"
	}
}

func (r BatchResult) observe(job string, m *observability.Metrics) {
	m.AddBatchItems(job, outcomeSuccessful.String(), r.Successful)
	m.AddBatchItems(job, outcomeFailed.String(), r.Failed)
	m.AddBatchItems(job, outcomeGaveUp.String(), r.GaveUp)
	m.AddBatchItems(job, outcomeSkipped.String(), r.Skipped)
}

// runItems processes items on a bounded pool and returns one outcome per item.
func runItems[T any](ctx context.Context, concurrency int, items []T, fn func(context.Context, T) itemOutcome) []itemOutcome {
	if len(items) == 0 {
		return nil
	}

	p := pool.NewWithResults[itemOutcome]().WithMaxGoroutines(max(concurrency, 1))
	for _, item := range items {
		p.Go(func() itemOutcome {
			if ctx.Err() != nil {
				return outcomeSkipped
			}
			return fn(ctx, item)
		})
	}
	return p.Wait()
}

// callWithTimeout bounds fn by timeout and converts a panic into an error. fn keeps
// running in the background if it ignores cancellation.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result{value: zero, err: fmt.Errorf("send panicked: %v", r)}
			}
		}()
		value, err := fn(callCtx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-callCtx.Done():
		var zero T
		return zero, fmt.Errorf("send did not complete within %s: %w", timeout, callCtx.Err())
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) > maxStoredErrorLength {
		msg = msg[:maxStoredErrorLength]
	}
	return msg
}
