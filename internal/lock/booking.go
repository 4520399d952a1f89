package lock

import (
	"context"
	"time"

	"github.com/smallbiznis/folio/internal/config"
	"go.uber.org/zap"
)

const defaultPollInterval = 50 * time.Millisecond

// BookingLock serializes invoice builds per booking. A nil BookingLock, or one
// without a redis client, grants every request immediately so callers fall
// back to the storage-level unique constraint.
type BookingLock struct {
	locker       *Locker
	invoicing    *config.InvoicingConfigHolder
	log          *zap.Logger
	pollInterval time.Duration
}

func NewBookingLock(locker *Locker, invoicing *config.InvoicingConfigHolder, log *zap.Logger) *BookingLock {
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingLock{
		locker:       locker,
		invoicing:    invoicing,
		log:          log.Named("lock.booking"),
		pollInterval: defaultPollInterval,
	}
}

func (b *BookingLock) Enabled() bool {
	return b != nil && b.locker != nil
}

// Acquire waits until the build lock for bookingID is held or the lock TTL
// elapses. The returned release func is always safe to call. held is false when
// the wait timed out or the lock is disabled.
func (b *BookingLock) Acquire(ctx context.Context, bookingID int64) (release func(), held bool, err error) {
	noop := func() {}
	if !b.Enabled() {
		return noop, false, nil
	}

	ttl := b.invoicing.Get().BuildLockTTL
	deadline := time.Now().Add(ttl)

	for {
		lease, err := b.locker.TryAcquire(ctx, bookingID, ttl)
		if err != nil {
			return noop, false, err
		}
		if lease.Held() {
			return func() {
				// Release on a fresh context so a cancelled build still frees the key.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := b.locker.Release(releaseCtx, lease); err != nil {
					b.log.Warn("failed to release build lock", zap.Int64("booking_id", bookingID), zap.Error(err))
				}
			}, true, nil
		}
		if time.Now().After(deadline) {
			b.log.Warn("build lock wait timed out", zap.Int64("booking_id", bookingID), zap.Duration("ttl", ttl))
			return noop, false, nil
		}

		select {
		case <-ctx.Done():
			return noop, false, ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
}
