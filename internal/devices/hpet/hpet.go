package hpet

import (
	"fmt"
	"sync"

	"github.com/tinyrange/i8254/internal/chipset"
	"github.com/tinyrange/i8254/internal/hv"
	"github.com/tinyrange/i8254/internal/vclock"
)

// InterruptSink defines where the HPET sends its signals (usually the
// IOAPIC).
type InterruptSink interface {
	SetIRQ(irq uint32, level bool) error
}

// LegacyTimer is the capability the HPET expects from the platform's PIT
// when the legacy replacement route is toggled. The PIT publishes itself
// in the chipset class registry under "pit".
type LegacyTimer interface {
	DisableChannel0()
	EnableChannel0Defaults()
}

const (
	clockPeriodFemtoseconds = 10_000_000 // 10ns
	vendorID                = 0x8086
	numTimers               = 3 // enough for typical guests

	regGenCap      = 0x000
	regGenConfig   = 0x010
	regIntStatus   = 0x020
	regMainCounter = 0x0F0
	regTimerConfig = 0x100
	timerStride    = 0x20

	genConfigEnable = 1 << 0
	genConfigLegacy = 1 << 1

	// MMIOWindowSize is the size of the HPET register window.
	MMIOWindowSize = 0x400
)

type timer struct {
	config     uint64
	comparator uint64
	fsRoute    uint64
}

// Device is a minimal HPET: a main counter ticking every 10ns, a few
// comparators, and the legacy replacement route that hands IRQ0 back and
// forth with the PIT.
type Device struct {
	base  uint64
	clock vclock.Clock
	sink  InterruptSink

	mu            sync.Mutex
	generalConfig uint64
	intStatus     uint64
	counter       uint64
	lastUpdate    int64
	enabled       bool

	timers [numTimers]timer
}

// New constructs an HPET device mapped at base, counting on the supplied
// clock. sink receives comparator interrupts; it may be nil.
func New(base uint64, clock vclock.Clock, sink InterruptSink) *Device {
	return &Device{
		base:  base,
		clock: clock,
		sink:  sink,
	}
}

// Init implements hv.Device.
func (d *Device) Init(vm hv.VirtualMachine) error {
	if d.sink == nil && vm != nil {
		d.sink = vm
	}
	return nil
}

// Start implements chipset.ChangeDeviceState.
func (d *Device) Start() error { return nil }

// Stop implements chipset.ChangeDeviceState.
func (d *Device) Stop() error { return nil }

// Reset implements chipset.ChangeDeviceState. Resetting the HPET leaves
// legacy replacement mode, which must hand the timer interrupt back to
// the PIT.
func (d *Device) Reset() error {
	d.mu.Lock()
	wasLegacy := d.generalConfig&genConfigLegacy != 0
	d.generalConfig = 0
	d.intStatus = 0
	d.counter = 0
	d.enabled = false
	for i := range d.timers {
		d.timers[i] = timer{}
	}
	d.mu.Unlock()

	if wasLegacy {
		enableLegacyTimer()
	}
	return nil
}

// MMIORegions implements hv.MemoryMappedIODevice.
func (d *Device) MMIORegions() []hv.MMIORegion {
	return []hv.MMIORegion{{Address: d.base, Size: MMIOWindowSize}}
}

func (d *Device) offsetFor(addr uint64) (uint64, error) {
	if addr >= d.base && addr < d.base+MMIOWindowSize {
		return addr - d.base, nil
	}
	return 0, fmt.Errorf("hpet: address 0x%x outside configured MMIO window", addr)
}

// ReadMMIO implements hv.MemoryMappedIODevice.
func (d *Device) ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.updateCounterLocked()

	offset, err := d.offsetFor(addr)
	if err != nil {
		return err
	}
	val := uint64(0)

	switch {
	case offset == regGenCap:
		val = uint64(clockPeriodFemtoseconds)<<32 | uint64(vendorID)<<16 | uint64(1)<<13 | (numTimers - 1)
	case offset == regGenConfig:
		val = d.generalConfig
	case offset == regIntStatus:
		val = d.intStatus
	case offset == regMainCounter:
		val = d.counter
	case offset >= regTimerConfig:
		idx := (offset - regTimerConfig) / timerStride
		if idx >= numTimers {
			return nil
		}
		reg := (offset - regTimerConfig) % timerStride
		t := &d.timers[idx]
		switch reg {
		case 0x00:
			val = t.config
		case 0x08:
			val = t.comparator
		case 0x10:
			val = t.fsRoute
		}
	}

	if len(data) > 8 {
		return fmt.Errorf("hpet: invalid read size %d", len(data))
	}
	for i := 0; i < len(data); i++ {
		data[i] = byte(val >> (i * 8))
	}
	return nil
}

// WriteMMIO implements hv.MemoryMappedIODevice.
func (d *Device) WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	d.mu.Lock()

	offset, err := d.offsetFor(addr)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	var val uint64
	for i := 0; i < len(data) && i < 8; i++ {
		val |= uint64(data[i]) << (i * 8)
	}

	var legacyOn, legacyOff bool

	switch {
	case offset == regGenConfig:
		d.updateCounterLocked()
		wasLegacy := d.generalConfig&genConfigLegacy != 0
		d.generalConfig = val & (genConfigEnable | genConfigLegacy)
		enabled := d.generalConfig&genConfigEnable != 0
		if enabled && !d.enabled {
			d.lastUpdate = d.clock.Now()
		}
		d.enabled = enabled
		isLegacy := d.generalConfig&genConfigLegacy != 0
		legacyOn = isLegacy && !wasLegacy
		legacyOff = wasLegacy && !isLegacy
	case offset == regIntStatus:
		d.intStatus &= ^val
	case offset == regMainCounter:
		d.counter = val
		if d.enabled {
			d.lastUpdate = d.clock.Now()
		}
	case offset >= regTimerConfig:
		idx := (offset - regTimerConfig) / timerStride
		if idx >= numTimers {
			d.mu.Unlock()
			return nil
		}
		reg := (offset - regTimerConfig) % timerStride
		t := &d.timers[idx]
		switch reg {
		case 0x00:
			t.config = val
		case 0x08:
			t.comparator = val
		case 0x10:
			t.fsRoute = val
		}
	}
	d.mu.Unlock()

	// While the HPET operates in legacy replacement mode the PIT's
	// channel 0 interrupt is suppressed; leaving the mode reenables it
	// with power-on defaults.
	if legacyOn {
		disableLegacyTimer()
	}
	if legacyOff {
		enableLegacyTimer()
	}
	return nil
}

func (d *Device) updateCounterLocked() {
	if !d.enabled {
		return
	}
	now := d.clock.Now()
	if now < d.lastUpdate {
		d.lastUpdate = now
		return
	}
	elapsed := uint64(now - d.lastUpdate)
	femto := vclock.MulDiv64(elapsed, 1_000_000_000_000_000, uint64(d.clock.TicksPerSecond()))
	ticks := femto / clockPeriodFemtoseconds
	d.counter += ticks
	d.lastUpdate = now
	d.checkTimersLocked(ticks)
}

func (d *Device) checkTimersLocked(delta uint64) {
	for i := range d.timers {
		t := &d.timers[i]
		if (t.config & 4) == 0 {
			continue
		}
		if d.counter >= t.comparator && (d.counter-delta) < t.comparator {
			irq := int((t.config >> 9) & 0x1F)
			if d.generalConfig&genConfigLegacy != 0 {
				if i == 0 {
					irq = 0
				}
				if i == 1 {
					irq = 8
				}
			}
			if d.sink != nil {
				_ = d.sink.SetIRQ(uint32(irq), true)
				_ = d.sink.SetIRQ(uint32(irq), false)
			}
			d.intStatus |= (1 << i)
		}
	}
}

func disableLegacyTimer() {
	if lt, ok := chipset.LookupClass("pit").(LegacyTimer); ok {
		lt.DisableChannel0()
	}
}

func enableLegacyTimer() {
	if lt, ok := chipset.LookupClass("pit").(LegacyTimer); ok {
		lt.EnableChannel0Defaults()
	}
}

var (
	_ hv.MemoryMappedIODevice   = (*Device)(nil)
	_ chipset.ChangeDeviceState = (*Device)(nil)
)
