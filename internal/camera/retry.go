package camera

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/wayguide/wayguide/internal/timeutil"
)

// RetryPolicy bounds how long a read waits for a queue to fill.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
	Clock    timeutil.Clock
}

type retryDevice struct {
	Device
	policy RetryPolicy
}

// WithRetry wraps dev so that each read retries ErrNoFrame up to
// policy.Attempts times, sleeping Interval between attempts. Any other error
// returns immediately.
func WithRetry(dev Device, policy RetryPolicy) Device {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Clock == nil {
		policy.Clock = timeutil.RealClock{}
	}
	return &retryDevice{Device: dev, policy: policy}
}

func retry[T any](ctx context.Context, p RetryPolicy, read func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := read(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNoFrame) || attempt >= p.Attempts {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		p.Clock.Sleep(p.Interval)
	}
}

func (d *retryDevice) NextColorFrame(ctx context.Context) (Frame, error) {
	return retry(ctx, d.policy, d.Device.NextColorFrame)
}

func (d *retryDevice) NextDetections(ctx context.Context) ([]Detection, error) {
	return retry(ctx, d.policy, d.Device.NextDetections)
}

func (d *retryDevice) NextDisparity(ctx context.Context) (*image.Gray, error) {
	return retry(ctx, d.policy, d.Device.NextDisparity)
}
