// Package ratelimit applies a per-user fixed-window limit to inbound
// messages.
package ratelimit

import (
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/ttlcache"
)

// Window is the fixed counting window.
const Window = 60 * time.Second

type Limiter struct {
	store *ttlcache.Cache[int64, int]
}

// NewStore builds the backing cache; its lifetime (Start/Stop) belongs to
// the caller.
func NewStore(opts ...ttlcache.Option[int64, int]) *ttlcache.Cache[int64, int] {
	return ttlcache.New[int64, int](Window, opts...)
}

func New(store *ttlcache.Cache[int64, int]) *Limiter {
	return &Limiter{store: store}
}

// Limited counts one message for userID and reports whether the count
// within the current window exceeds limitPerMinute. The first message of a
// window is never limited.
func (l *Limiter) Limited(userID int64, limitPerMinute int) bool {
	count := l.store.Update(userID, func(cur int, ok bool) (int, bool) {
		if !ok {
			return 1, true
		}
		return cur + 1, true
	})
	return count > 1 && count > limitPerMinute
}
