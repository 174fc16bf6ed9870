// Package rewards pays helpers for completed requests and latches the
// one-time coupon.
package rewards

import (
	"context"
	"sync"
	"time"

	"github.com/idan55/makeamitsva-backend/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	DefaultStarsPerCompletion = 10
	DefaultCouponThreshold    = 500

	notifyTimeout = 5 * time.Second
)

type Outcome string

const (
	OutcomeGranted       Outcome = "granted"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeHelperMissing Outcome = "helper_missing"
	OutcomeFailed        Outcome = "failed"
)

type Grant struct {
	RequestID string
	HelperID  string
}

type Result struct {
	Outcome      Outcome
	Stars        int
	CouponEarned bool
}

// Store persists grants atomically.
type Store interface {
	Apply(ctx context.Context, g Grant, stars, couponThreshold int) (Result, error)
}

type Options struct {
	StarsPerCompletion int
	CouponThreshold    int
}

// Ledger never returns an error: a failed grant is logged and counted, and
// the request it belongs to stays closed.
type Ledger struct {
	store     Store
	notifier  Notifier
	log       *logrus.Entry
	stars     int
	threshold int
	now       func() time.Time

	wg sync.WaitGroup
}

func NewLedger(store Store, notifier Notifier, log *logrus.Entry, opt Options) *Ledger {
	if opt.StarsPerCompletion <= 0 {
		opt.StarsPerCompletion = DefaultStarsPerCompletion
	}
	if opt.CouponThreshold <= 0 {
		opt.CouponThreshold = DefaultCouponThreshold
	}
	return &Ledger{
		store:     store,
		notifier:  notifier,
		log:       log,
		stars:     opt.StarsPerCompletion,
		threshold: opt.CouponThreshold,
		now:       time.Now,
	}
}

// Grant pays the helper of a just-closed request.
func (l *Ledger) Grant(ctx context.Context, g Grant) Result {
	entry := l.log.WithFields(logrus.Fields{"request_id": g.RequestID, "helper_id": g.HelperID})

	res, err := l.store.Apply(ctx, g, l.stars, l.threshold)
	if err != nil {
		entry.WithError(err).Error("reward grant failed; request stays closed")
		metrics.RecordRewardGrant(string(OutcomeFailed))
		return Result{Outcome: OutcomeFailed}
	}
	metrics.RecordRewardGrant(string(res.Outcome))

	switch res.Outcome {
	case OutcomeHelperMissing:
		entry.Warn("completed request has deleted helper, skipping stars")
		return res
	case OutcomeDuplicate:
		entry.Warn("reward already granted for request")
		return res
	}

	entry.WithField("stars", res.Stars).Info("stars granted")
	if res.CouponEarned {
		metrics.RecordCoupon()
		entry.WithField("stars", res.Stars).Info("coupon earned")
		l.notify(CouponEvent{UserID: g.HelperID, RequestID: g.RequestID, Stars: res.Stars, EarnedAt: l.now().UTC()})
	}
	return res
}

// Wait blocks until in-flight notifications finish. Used on shutdown and in tests.
func (l *Ledger) Wait() {
	l.wg.Wait()
}

// notify is fire-and-forget; it must not hold up or fail the confirm call.
func (l *Ledger) notify(ev CouponEvent) {
	if l.notifier == nil {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := l.notifier.CouponEarned(ctx, ev); err != nil {
			l.log.WithError(err).WithField("user_id", ev.UserID).Warn("coupon notification failed")
		}
	}()
}
