package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/singleflight"
)

// Dedup collapses concurrent fetches of the same key into one call.
// Callers share the resulting collection and must not mutate it.
type Dedup struct {
	next  Fetcher
	group singleflight.Group
}

// NewDedup wraps next.
func NewDedup(next Fetcher) *Dedup {
	return &Dedup{next: next}
}

// Fetch implements Fetcher.
func (d *Dedup) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	ch := d.group.DoChan(key, func() (any, error) {
		// Detach from the first caller so its cancellation does not fail
		// everyone else waiting on the same key.
		return d.next.Fetch(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*geojson.FeatureCollection), nil
	}
}

// Retry re-runs failed fetches with a fixed backoff. Missing datasets and
// invalid keys are not retried.
type Retry struct {
	Next     Fetcher
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger
}

// Fetch implements Fetcher.
func (r *Retry) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if r.Logger != nil {
				r.Logger.Warn("retrying fetch", "key", key, "attempt", i+1, "err", err)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.Backoff):
			}
		}
		var fc *geojson.FeatureCollection
		fc, err = r.Next.Fetch(ctx, key)
		if err == nil {
			return fc, nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidKey) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return nil, err
}
