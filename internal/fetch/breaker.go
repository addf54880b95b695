package fetch

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrHostUnavailable = errors.New("remote host unavailable")

// hostBreaker stops talking to a host after too many consecutive transport
// failures. Once the cooldown elapses one trial request is let through; a
// failure reopens the breaker, a success closes it.
type hostBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	failures  int
	openUntil time.Time
}

func newHostBreaker(threshold int, cooldown time.Duration) *hostBreaker {
	return &hostBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		hosts:     make(map[string]*hostState),
	}
}

// allow returns ErrHostUnavailable while host is in its cooldown.
func (b *hostBreaker) allow(host string) error {
	if b.threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.hosts[host]
	if !ok || state.failures < b.threshold {
		return nil
	}
	if b.now().Before(state.openUntil) {
		return fmt.Errorf("%w: %s failed %d times in a row", ErrHostUnavailable, host, state.failures)
	}
	return nil
}

// record accounts for the outcome of one request to host.
func (b *hostBreaker) record(host string, failed bool) {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.hosts[host]
	if !ok {
		state = &hostState{}
		b.hosts[host] = state
	}
	if !failed {
		state.failures = 0
		state.openUntil = time.Time{}
		return
	}
	state.failures++
	if state.failures >= b.threshold {
		state.openUntil = b.now().Add(b.cooldown)
	}
}
