package kiosk

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ulidSource mints monotonic attempt ids. Not safe for concurrent use; only
// the coordinator loop calls it.
type ulidSource struct {
	entropy *ulid.MonotonicEntropy
}

func newULIDSource() *ulidSource {
	return &ulidSource{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), //nolint:gosec // ids need uniqueness, not secrecy
	}
}

func (u *ulidSource) next(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), u.entropy).String()
}
