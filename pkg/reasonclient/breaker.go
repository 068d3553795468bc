package reasonclient

import (
	"sync"
	"time"
)

// breaker counts failed logical calls. At threshold it opens for openFor;
// once the window passes the next call goes through. A failure then reopens
// it immediately since the count is only cleared by a success.
type breaker struct {
	mu          sync.Mutex
	threshold   int
	openFor     time.Duration
	now         func() time.Time
	failCount   int
	openedUntil time.Time
}

func newBreaker(threshold int, openFor time.Duration, now func() time.Time) *breaker {
	return &breaker{threshold: threshold, openFor: openFor, now: now}
}

// allow reports whether a call may proceed, and the current failure count.
func (b *breaker) allow() (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openedUntil), b.failCount
}

// success resets the count. It returns true when the breaker had tripped.
func (b *breaker) success() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	tripped := b.failCount >= b.threshold
	b.failCount = 0
	b.openedUntil = time.Time{}
	return tripped
}

// failure records a failed call. It returns the new count and whether the
// breaker opened as a result.
func (b *breaker) failure() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCount++
	if b.failCount >= b.threshold {
		b.openedUntil = b.now().Add(b.openFor)
		return b.failCount, true
	}
	return b.failCount, false
}

func (b *breaker) state() (int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failCount, b.openedUntil
}
