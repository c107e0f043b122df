package pit

import (
	"fmt"
	"sync"

	"github.com/tinyrange/i8254/internal/chipset"
	"github.com/tinyrange/i8254/internal/hv"
	"github.com/tinyrange/i8254/internal/vclock"
)

const (
	// DefaultIOBase is the legacy PC port window for the PIT.
	DefaultIOBase uint16 = 0x40

	// DeviceClass is the registry name cooperating peers look up.
	DeviceClass = "pit"

	controlOffset = 3
)

// OutLine models the interrupt line driven by channel 0's OUT pin.
type OutLine interface {
	SetLevel(high bool)
}

// OutLineFunc adapts a function to the OutLine interface.
type OutLineFunc func(high bool)

// SetLevel implements OutLine.
func (f OutLineFunc) SetLevel(high bool) {
	if f != nil {
		f(high)
	}
}

// PIT emulates the 8253/8254 programmable interval timer: three
// independently programmed counters behind a four-port window. Only
// channel 0 owns a transition timer and an interrupt line.
type PIT struct {
	mu sync.Mutex

	clock    vclock.TimerClock
	iobase   uint16
	channels [3]*channel
}

// Option customises a PIT instance.
type Option func(*PIT)

// WithIOBase moves the four-port window to a different base address.
func WithIOBase(base uint16) Option {
	return func(p *PIT) {
		p.iobase = base
	}
}

// New builds a PIT driven by the given clock. Channel 0's OUT pin is
// wired to out; pass nil to leave it disconnected.
func New(clock vclock.TimerClock, out OutLine, opts ...Option) *PIT {
	p := &PIT{
		clock:  clock,
		iobase: DefaultIOBase,
	}
	for i := range p.channels {
		p.channels[i] = newChannel(clock)
	}
	ch0 := p.channels[0]
	ch0.out = out
	ch0.timer = clock.NewOneShot(p.irqTimerFired)
	for _, opt := range opts {
		opt(p)
	}
	p.resetLocked()
	return p
}

// Init implements hv.Device: the PIT publishes itself so cooperating
// peers (the HPET legacy route) can reach it.
func (p *PIT) Init(vm hv.VirtualMachine) error {
	_ = vm
	return chipset.RegisterClass(DeviceClass, p)
}

// Start implements chipset.ChangeDeviceState.
func (p *PIT) Start() error { return nil }

// Stop implements chipset.ChangeDeviceState: it cancels channel 0's
// timer and withdraws the registry entry.
func (p *PIT) Stop() error {
	p.mu.Lock()
	ch0 := p.channels[0]
	if ch0.timer != nil {
		ch0.timer.Cancel()
		ch0.timerArmed = false
	}
	p.mu.Unlock()
	chipset.UnregisterClass(DeviceClass)
	return nil
}

// Reset implements chipset.ChangeDeviceState: every channel returns to
// mode 3 with a full 65536 count; the gate is high except on channel 2.
func (p *PIT) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

func (p *PIT) resetLocked() {
	now := p.clock.Now()
	for i, ch := range p.channels {
		ch.mode = modeSquareWave
		ch.gate = i != 2
		ch.loadCount(0, now)
	}
}

// IOPorts implements hv.X86IOPortDevice.
func (p *PIT) IOPorts() []uint16 {
	return []uint16{p.iobase, p.iobase + 1, p.iobase + 2, p.iobase + 3}
}

// ReadIOPort implements hv.X86IOPortDevice.
func (p *PIT) ReadIOPort(ctx hv.ExitContext, port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("pit: invalid read size %d", len(data))
	}
	offset := int(port) - int(p.iobase)
	if offset < 0 || offset > controlOffset {
		return fmt.Errorf("pit: invalid read port 0x%04x", port)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if offset == controlOffset {
		// The control register is write only.
		data[0] = 0xFF
		return nil
	}
	data[0] = p.channels[offset].readByte(p.clock.Now())
	return nil
}

// WriteIOPort implements hv.X86IOPortDevice.
func (p *PIT) WriteIOPort(ctx hv.ExitContext, port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("pit: invalid write size %d", len(data))
	}
	offset := int(port) - int(p.iobase)
	if offset < 0 || offset > controlOffset {
		return fmt.Errorf("pit: invalid write port 0x%04x", port)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if offset == controlOffset {
		p.writeControlLocked(data[0], now)
		return nil
	}
	p.channels[offset].writeByte(data[0], now)
	return nil
}

func (p *PIT) writeControlLocked(val byte, now int64) {
	if val>>6 == 3 {
		cmd := readBackCommand(val)
		for idx, ch := range p.channels {
			if !cmd.selects(idx) {
				continue
			}
			if cmd.latchCount() {
				ch.latchCount(now)
			}
			if cmd.latchStatus() {
				ch.latchStatus(now)
			}
		}
		return
	}

	ch := p.channels[val>>6]
	access := rwState((val >> 4) & 3)
	if access == 0 {
		ch.latchCount(now)
		return
	}
	ch.setControl(access, decodeMode(val>>1), val&1 == 1)
}

// irqTimerFired runs when channel 0's one-shot expires. The transition is
// evaluated at the predicted instant rather than the host's current time,
// so the output edge lands exactly where it was scheduled.
func (p *PIT) irqTimerFired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch0 := p.channels[0]
	ch0.updateIRQTimer(ch0.nextTransitionTime)
}

// SetGate drives a channel's gate input.
func (p *PIT) SetGate(channel int, high bool) error {
	if channel < 0 || channel > 2 {
		return fmt.Errorf("%w: %d", ErrBadChannel, channel)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[channel].setGate(high, p.clock.Now())
	return nil
}

// Gate reports a channel's gate input level.
func (p *PIT) Gate(channel int) (bool, error) {
	if channel < 0 || channel > 2 {
		return false, fmt.Errorf("%w: %d", ErrBadChannel, channel)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[channel].gate, nil
}

// Out reports a channel's OUT pin level at the given host tick.
func (p *PIT) Out(channel int, now int64) (bool, error) {
	if channel < 0 || channel > 2 {
		return false, fmt.Errorf("%w: %d", ErrBadChannel, channel)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[channel].outputHigh(now), nil
}

// InitialCount reports the most recently loaded count (0 normalizes to
// 65536 at load time, so the result is always in [1, 65536]).
func (p *PIT) InitialCount(channel int) (int, error) {
	if channel < 0 || channel > 2 {
		return 0, fmt.Errorf("%w: %d", ErrBadChannel, channel)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[channel].count, nil
}

// Mode reports a channel's counting mode.
func (p *PIT) Mode(channel int) (uint8, error) {
	if channel < 0 || channel > 2 {
		return 0, fmt.Errorf("%w: %d", ErrBadChannel, channel)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint8(p.channels[channel].mode), nil
}

// DisableChannel0 cancels channel 0's transition timer without touching
// counter state. The HPET calls this when it enters legacy replacement
// mode and takes over the timer interrupt.
func (p *PIT) DisableChannel0() {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch0 := p.channels[0]
	if ch0.timer != nil {
		ch0.timer.Cancel()
		ch0.timerArmed = false
	}
}

// EnableChannel0Defaults restores channel 0 to its power-on square wave
// and reschedules it. The HPET calls this when it resets or leaves
// legacy replacement mode.
func (p *PIT) EnableChannel0Defaults() {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch0 := p.channels[0]
	ch0.mode = modeSquareWave
	ch0.gate = true
	ch0.loadCount(0, p.clock.Now())
}

// channel2OutputHigh serves the port 0x61 speaker status bit.
func (p *PIT) channel2OutputHigh(now int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[2].outputHigh(now)
}

// readBackCommand decodes the control-port form that latches count and
// status for several channels in one write.
type readBackCommand byte

func (c readBackCommand) selects(idx int) bool { return byte(c)&byte(2<<idx) != 0 }
func (c readBackCommand) latchCount() bool     { return byte(c)&0x20 == 0 }
func (c readBackCommand) latchStatus() bool    { return byte(c)&0x10 == 0 }

var (
	_ hv.Device                 = (*PIT)(nil)
	_ hv.X86IOPortDevice        = (*PIT)(nil)
	_ chipset.ChangeDeviceState = (*PIT)(nil)
)
