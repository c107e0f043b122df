package vclock

import (
	"sync"
	"time"
)

// hostClock counts nanoseconds since construction using the runtime's
// monotonic reading of time.Now.
type hostClock struct {
	start time.Time
}

// NewHostClock returns a TimerClock backed by real time, ticking in
// nanoseconds.
func NewHostClock() TimerClock {
	return &hostClock{start: time.Now()}
}

func (c *hostClock) Now() int64 {
	return time.Since(c.start).Nanoseconds()
}

func (c *hostClock) TicksPerSecond() int64 {
	return int64(time.Second / time.Nanosecond)
}

func (c *hostClock) NewOneShot(cb func()) OneShot {
	return &hostOneShot{clock: c, cb: cb}
}

type hostOneShot struct {
	clock *hostClock
	cb    func()

	mu    sync.Mutex
	timer *time.Timer
}

func (t *hostOneShot) Arm(deadline int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := time.Duration(deadline - t.clock.Now())
	if d < 0 {
		d = 0
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(d, t.cb)
		return
	}
	t.timer.Stop()
	t.timer.Reset(d)
}

func (t *hostOneShot) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
}
