package otlpexport

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/99souls/zensight/engine/zerr"
)

// retryPolicy implements spec §4.8's backoff: up to 3 retries on transient
// failure, delays 1s/2s/4s each jittered by ±25%. Permanent failures (4xx
// other than 429, or a gRPC status the classifier marks non-retryable) drop
// the batch immediately without retrying.
type retryPolicy struct {
	maxAttempts int
	baseDelays  []time.Duration
	jitter      float64
	sleep       func(time.Duration)
}

func newRetryPolicy() *retryPolicy {
	return &retryPolicy{
		maxAttempts: 3,
		baseDelays:  []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		jitter:      0.25,
		sleep:       time.Sleep,
	}
}

// send runs op, retrying on transient failures per the policy and giving up
// immediately on a classified-permanent one. It returns the last error, or
// nil on success.
func (p *retryPolicy) send(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == p.maxAttempts {
			return lastErr
		}
		delay := p.baseDelays[attempt]
		jittered := jitter(delay, p.jitter)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.sleep(jittered)
	}
	return lastErr
}

func jitter(d time.Duration, frac float64) time.Duration {
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

// isRetryable classifies a send failure as transient (network error, gRPC
// Unavailable/ResourceExhausted/DeadlineExceeded, HTTP 5xx or 429) versus
// permanent (any other 4xx). Unrecognized errors default to transient so a
// flaky network blip isn't mistaken for a permanent rejection.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var zerrErr *zerr.Error
	if errors.As(err, &zerrErr) {
		return zerrErr.Retryable
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
			return true
		case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied, codes.Unauthenticated, codes.NotFound, codes.OutOfRange:
			return false
		}
	}
	if httpCode, ok := httpStatusFromError(err); ok {
		if httpCode == 429 {
			return true
		}
		if httpCode >= 400 && httpCode < 500 {
			return false
		}
		if httpCode >= 500 {
			return true
		}
	}
	return true
}
