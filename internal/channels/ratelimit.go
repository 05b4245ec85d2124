package channels

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedConversations caps the number of per-conversation limiters so a
// flood of new chat ids cannot exhaust memory. The least recently used
// limiter is dropped first, which only makes that conversation less limited.
const maxTrackedConversations = 4096

// ConversationLimiter bounds how many replies a single conversation may
// receive per minute. It stops two auto-responders from answering each
// other forever. Safe for concurrent use; a nil limiter allows everything.
type ConversationLimiter struct {
	perMinute int
	limiters  *lru.Cache[string, *rate.Limiter]
}

// NewConversationLimiter returns nil when perMinute <= 0 (no limit).
func NewConversationLimiter(perMinute int) *ConversationLimiter {
	if perMinute <= 0 {
		return nil
	}
	cache, err := lru.New[string, *rate.Limiter](maxTrackedConversations)
	if err != nil {
		panic(err)
	}
	return &ConversationLimiter{perMinute: perMinute, limiters: cache}
}

// Allow reports whether a reply to key may be sent now and consumes a token if so.
func (l *ConversationLimiter) Allow(key string) bool {
	return l.AllowAt(key, time.Now())
}

// AllowAt is Allow at an explicit instant.
func (l *ConversationLimiter) AllowAt(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	lim, ok := l.limiters.Get(key)
	if !ok {
		fresh := rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
		if prev, found, _ := l.limiters.PeekOrAdd(key, fresh); found {
			lim = prev
		} else {
			lim = fresh
		}
	}
	return lim.AllowN(now, 1)
}
