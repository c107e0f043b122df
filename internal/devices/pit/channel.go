package pit

import "github.com/tinyrange/i8254/internal/vclock"

// Frequency is the 8254 input clock in Hz. Counter arithmetic converts
// host clock ticks into units of this rate.
const Frequency = 1193182

// rwState encodes both the programmed access width (rw mode) and the
// sub-phase of an in-flight two-byte transfer. The zero value means "no
// latch outstanding" when stored in countLatched.
type rwState uint8

const (
	rwStateLSB   rwState = 1
	rwStateMSB   rwState = 2
	rwStateWord0 rwState = 3
	rwStateWord1 rwState = 4
)

// countMode is the closed set of counting modes. Control writes mask the
// mode field with 7 and alias 6/7 onto 2/3 the way the hardware decodes
// them, so stored values never leave this set.
type countMode uint8

const (
	modeInterruptOnTerminal countMode = 0
	modeHardwareOneShot     countMode = 1
	modeRateGenerator       countMode = 2
	modeSquareWave          countMode = 3
	modeSoftwareStrobe      countMode = 4
	modeHardwareStrobe      countMode = 5
)

func decodeMode(bits byte) countMode {
	mode := countMode(bits & 7)
	switch mode {
	case 6:
		return modeRateGenerator
	case 7:
		return modeSquareWave
	default:
		return mode
	}
}

// channel holds the state of one of the three counters. All methods are
// called with the owning device's lock held.
type channel struct {
	clock vclock.Clock

	count         int // reload value, 1..65536
	latchedCount  uint16
	countLatched  rwState
	statusLatched bool
	status        byte
	readState     rwState
	writeState    rwState
	writeLatch    byte
	rwMode        rwState
	mode          countMode
	bcd           bool
	gate          bool
	countLoadTime int64

	nextTransitionTime int64
	timer              vclock.OneShot // channel 0 only
	timerArmed         bool
	out                OutLine // channel 0 only
}

func newChannel(clock vclock.Clock) *channel {
	return &channel{
		clock:      clock,
		count:      0x10000,
		rwMode:     rwStateWord0,
		mode:       modeSquareWave,
		readState:  rwStateWord0,
		writeState: rwStateWord0,
	}
}

// elapsed converts host ticks since the last count load into PIT ticks.
func (ch *channel) elapsed(now int64) uint64 {
	return vclock.MulDiv64(uint64(now-ch.countLoadTime), Frequency, uint64(ch.clock.TicksPerSecond()))
}

// currentCount computes the live 16-bit counter value at now.
func (ch *channel) currentCount(now int64) uint16 {
	d := ch.elapsed(now)
	c := uint64(ch.count)
	switch ch.mode {
	case modeInterruptOnTerminal, modeHardwareOneShot, modeSoftwareStrobe, modeHardwareStrobe:
		return uint16((c - d) & 0xffff)
	case modeSquareWave:
		// May be off by one for odd counts; real silicon alternates long
		// and short half periods.
		return uint16(c - (2*d)%c)
	default:
		return uint16(c - d%c)
	}
}

// outputHigh computes the OUT pin level at now.
func (ch *channel) outputHigh(now int64) bool {
	d := ch.elapsed(now)
	c := uint64(ch.count)
	switch ch.mode {
	case modeHardwareOneShot:
		return d < c
	case modeRateGenerator:
		return d%c == 0 && d != 0
	case modeSquareWave:
		return d%c < (c+1)>>1
	case modeSoftwareStrobe, modeHardwareStrobe:
		return d == c
	default:
		return d >= c
	}
}

// nextTransition predicts the host tick of the next OUT edge, or -1 when
// the output will never change again. The result is always strictly
// after now.
func (ch *channel) nextTransition(now int64) int64 {
	d := ch.elapsed(now)
	c := uint64(ch.count)
	var next uint64
	switch ch.mode {
	case modeRateGenerator:
		base := d / c * c
		if d == base && d != 0 {
			next = base + c
		} else {
			// One extra unit covers the single-tick high pulse.
			next = base + c + 1
		}
	case modeSquareWave:
		base := d / c * c
		half := (c + 1) >> 1
		if d-base < half {
			next = base + half
		} else {
			next = base + c
		}
	case modeSoftwareStrobe, modeHardwareStrobe:
		switch {
		case d < c:
			next = c
		case d == c:
			next = c + 1
		default:
			return -1
		}
	default: // modes 0 and 1
		if d >= c {
			return -1
		}
		next = c
	}

	when := ch.countLoadTime + int64(vclock.MulDiv64(next, uint64(ch.clock.TicksPerSecond()), Frequency))
	if when <= now {
		when = now + 1
	}
	return when
}

// loadCount installs a freshly written reload value and restarts
// counting from now. A value of zero counts the full 65536 period.
func (ch *channel) loadCount(val int, now int64) {
	if val == 0 {
		val = 0x10000
	}
	ch.countLoadTime = now
	ch.count = val
	ch.updateIRQTimer(now)
}

// latchCount snapshots the count for atomic reads. A latch taken while
// one is outstanding is ignored.
func (ch *channel) latchCount(now int64) {
	if ch.countLatched == 0 {
		ch.latchedCount = ch.currentCount(now)
		ch.countLatched = ch.rwMode
	}
}

// latchStatus snapshots the status byte. An outstanding status latch is
// preserved.
func (ch *channel) latchStatus(now int64) {
	if ch.statusLatched {
		return
	}
	ch.status = ch.statusByte(now)
	ch.statusLatched = true
}

// statusByte assembles the read-back status: OUT level, rw mode, mode and
// the bcd flag. The null-count bit is not modeled and reads as zero.
func (ch *channel) statusByte(now int64) byte {
	status := byte(ch.rwMode&3)<<4 | byte(ch.mode)<<1
	if ch.outputHigh(now) {
		status |= 1 << 7
	}
	if ch.bcd {
		status |= 1
	}
	return status
}

// setControl reprograms access width, mode and bcd. The count and its
// load time survive; a following data-port write restarts the counter.
func (ch *channel) setControl(access rwState, mode countMode, bcd bool) {
	ch.rwMode = access
	ch.readState = access
	ch.writeState = access
	ch.mode = mode
	ch.bcd = bcd
	// Count loads rearm the channel 0 timer; a bare control write does not.
}

// writeByte advances the data-port write state machine.
func (ch *channel) writeByte(val byte, now int64) {
	switch ch.writeState {
	case rwStateMSB:
		ch.loadCount(int(val)<<8, now)
	case rwStateWord0:
		ch.writeLatch = val
		ch.writeState = rwStateWord1
	case rwStateWord1:
		ch.loadCount(int(ch.writeLatch)|int(val)<<8, now)
		ch.writeState = rwStateWord0
	default:
		ch.loadCount(int(val), now)
	}
}

// readByte returns the next data-port byte: latched status first, then
// any outstanding count latch, then the live counter.
func (ch *channel) readByte(now int64) byte {
	if ch.statusLatched {
		ch.statusLatched = false
		return ch.status
	}
	if ch.countLatched != 0 {
		switch ch.countLatched {
		case rwStateMSB:
			ch.countLatched = 0
			return byte(ch.latchedCount >> 8)
		case rwStateWord0:
			ch.countLatched = rwStateMSB
			return byte(ch.latchedCount)
		default:
			ch.countLatched = 0
			return byte(ch.latchedCount)
		}
	}
	switch ch.readState {
	case rwStateMSB:
		return byte(ch.currentCount(now) >> 8)
	case rwStateWord0:
		ch.readState = rwStateWord1
		return byte(ch.currentCount(now))
	case rwStateWord1:
		ch.readState = rwStateWord0
		return byte(ch.currentCount(now) >> 8)
	default:
		return byte(ch.currentCount(now))
	}
}

// setGate drives the external gate input. Rising edges restart counting
// in the triggered modes; modes 0 and 4 do not react to the gate here,
// and modes 2/3 keep counting while the gate is low.
func (ch *channel) setGate(high bool, now int64) {
	switch ch.mode {
	case modeHardwareOneShot, modeHardwareStrobe, modeRateGenerator, modeSquareWave:
		if !ch.gate && high {
			ch.countLoadTime = now
			ch.updateIRQTimer(now)
		}
	}
	ch.gate = high
}

// updateIRQTimer recomputes the next OUT transition, drives the IRQ line
// to the current output level and rearms or cancels the one-shot. On
// channels without a timer this is a no-op.
func (ch *channel) updateIRQTimer(now int64) {
	if ch.timer == nil {
		return
	}
	expire := ch.nextTransition(now)
	if ch.out != nil {
		ch.out.SetLevel(ch.outputHigh(now))
	}
	ch.nextTransitionTime = expire
	if expire != -1 {
		ch.timer.Arm(expire)
		ch.timerArmed = true
	} else {
		ch.timer.Cancel()
		ch.timerArmed = false
	}
}
