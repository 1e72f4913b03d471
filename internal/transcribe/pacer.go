package transcribe

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCallsPerMinute is the remote recognition quota the pacer defends.
const DefaultCallsPerMinute = 45

// Pacer enforces a minimum spacing between remote recognition calls. Waits
// are synchronous blocking sleeps: calls in this system are never concurrent,
// so a queued scheduler would be overkill. One Pacer is shared by every call
// site of a gateway.
type Pacer struct {
	mu  sync.Mutex
	lim *rate.Limiter

	// swappable for tests
	now   func() time.Time
	sleep func(time.Duration)
}

func NewPacer(callsPerMinute int) *Pacer {
	if callsPerMinute <= 0 {
		callsPerMinute = DefaultCallsPerMinute
	}
	return &Pacer{
		lim:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(callsPerMinute)), 1),
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// Wait blocks until the next call is allowed.
func (p *Pacer) Wait() {
	p.mu.Lock()
	t := p.now()
	delay := p.lim.ReserveN(t, 1).DelayFrom(t)
	p.mu.Unlock()

	if delay > 0 {
		p.sleep(delay)
	}
}
