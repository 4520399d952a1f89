package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Builds for one booking share this key; the booking id is the only variable part.
const buildKeyFormat = "folio:invoice:build:%d"

// releaseIfOwner deletes KEYS[1] only while it still holds the caller's token,
// so a lease that outlived its TTL cannot free someone else's build.
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var (
	ErrLockNotConfigured = errors.New("lock client not configured")
	ErrInvalidBookingID  = errors.New("build lock needs a positive booking id")
	ErrInvalidLockTTL    = errors.New("lock ttl must be positive")
)

// Lease is a held build lock for one booking. The zero Lease holds nothing.
type Lease struct {
	BookingID int64
	token     string
}

func (l Lease) Held() bool { return l.token != "" }

// BuildKey is the redis key guarding invoice builds for bookingID.
func BuildKey(bookingID int64) string {
	return fmt.Sprintf(buildKeyFormat, bookingID)
}

// Locker hands out per-booking build leases backed by redis SET NX.
type Locker struct {
	client redis.Cmdable
}

func NewLocker(client redis.Cmdable) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// TryAcquire makes one attempt at the booking's build lease. A lease that is
// already held elsewhere returns a zero Lease and no error.
func (l *Locker) TryAcquire(ctx context.Context, bookingID int64, ttl time.Duration) (Lease, error) {
	if l == nil || l.client == nil {
		return Lease{}, ErrLockNotConfigured
	}
	if bookingID <= 0 {
		return Lease{}, ErrInvalidBookingID
	}
	if ttl <= 0 {
		return Lease{}, ErrInvalidLockTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, BuildKey(bookingID), token, ttl).Result()
	if err != nil || !ok {
		return Lease{}, err
	}
	return Lease{BookingID: bookingID, token: token}, nil
}

// Release gives the lease back. Releasing a zero or expired lease is a no-op.
func (l *Locker) Release(ctx context.Context, lease Lease) error {
	if l == nil || l.client == nil || !lease.Held() {
		return nil
	}
	return releaseIfOwner.Run(ctx, l.client, []string{BuildKey(lease.BookingID)}, lease.token).Err()
}
