// Package expiry hard-deletes requests past their expiry deadline.
package expiry

import (
	"context"
	"time"

	"github.com/idan55/makeamitsva-backend/internal/metrics"
	"github.com/sirupsen/logrus"
)

const defaultBatch = 200

// Store is the slice of the request repository the reaper needs.
type Store interface {
	Expired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Delete(ctx context.Context, id string) error
}

type Reaper struct {
	store Store
	log   *logrus.Entry
	batch int64
	now   func() time.Time
}

func NewReaper(store Store, log *logrus.Entry) *Reaper {
	return &Reaper{
		store: store,
		log:   log,
		batch: defaultBatch,
		now:   time.Now,
	}
}

// RunOnce deletes every request whose deadline passed, batch by batch, and
// returns how many were removed. A failed delete stops the pass; the rest is
// picked up next time.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	now := r.now()
	total := 0
	defer func() { metrics.RecordReaped(total) }()

	for {
		ids, err := r.store.Expired(ctx, now, r.batch)
		if err != nil {
			return total, err
		}

		for _, id := range ids {
			if err := r.store.Delete(ctx, id); err != nil {
				r.log.WithError(err).WithField("request_id", id).Warn("reap request")
				return total, err
			}
			total++
		}

		if int64(len(ids)) < r.batch {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	if total > 0 {
		r.log.WithField("count", total).Info("expired requests reaped")
	}
	return total, nil
}
