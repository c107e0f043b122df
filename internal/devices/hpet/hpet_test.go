package hpet

import (
	"testing"

	"github.com/tinyrange/i8254/internal/chipset"
	"github.com/tinyrange/i8254/internal/vclock"
)

const testBase = 0xFED00000

type fakeLegacyTimer struct {
	disabled int
	enabled  int
}

func (f *fakeLegacyTimer) DisableChannel0()        { f.disabled++ }
func (f *fakeLegacyTimer) EnableChannel0Defaults() { f.enabled++ }

func registerFakePIT(t *testing.T) *fakeLegacyTimer {
	t.Helper()
	fake := &fakeLegacyTimer{}
	if err := chipset.RegisterClass("pit", fake); err != nil {
		t.Fatalf("register fake pit: %v", err)
	}
	t.Cleanup(func() { chipset.UnregisterClass("pit") })
	return fake
}

func write64(t *testing.T, d *Device, offset uint64, val uint64) {
	t.Helper()
	data := make([]byte, 8)
	for i := range data {
		data[i] = byte(val >> (i * 8))
	}
	if err := d.WriteMMIO(nil, testBase+offset, data); err != nil {
		t.Fatalf("write offset 0x%x: %v", offset, err)
	}
}

func read64(t *testing.T, d *Device, offset uint64) uint64 {
	t.Helper()
	data := make([]byte, 8)
	if err := d.ReadMMIO(nil, testBase+offset, data); err != nil {
		t.Fatalf("read offset 0x%x: %v", offset, err)
	}
	var val uint64
	for i := range data {
		val |= uint64(data[i]) << (i * 8)
	}
	return val
}

func TestCounterAdvancesWithClock(t *testing.T) {
	clock := vclock.NewManual(1_000_000_000)
	d := New(testBase, clock, nil)

	write64(t, d, regGenConfig, genConfigEnable)

	clock.Advance(1_000_000_000) // one second
	counter := read64(t, d, regMainCounter)

	// 10ns per HPET tick.
	if counter != 100_000_000 {
		t.Fatalf("expected 1e8 HPET ticks after a second, got %d", counter)
	}
}

func TestCounterFrozenWhileDisabled(t *testing.T) {
	clock := vclock.NewManual(1_000_000_000)
	d := New(testBase, clock, nil)

	clock.Advance(1_000_000_000)
	if counter := read64(t, d, regMainCounter); counter != 0 {
		t.Fatalf("expected counter frozen while disabled, got %d", counter)
	}
}

func TestLegacyRouteHandsTimerBackAndForth(t *testing.T) {
	fake := registerFakePIT(t)
	clock := vclock.NewManual(1_000_000_000)
	d := New(testBase, clock, nil)

	write64(t, d, regGenConfig, genConfigEnable|genConfigLegacy)
	if fake.disabled != 1 {
		t.Fatalf("expected PIT disabled when entering legacy mode, got %d", fake.disabled)
	}

	// Re-writing the same config must not toggle again.
	write64(t, d, regGenConfig, genConfigEnable|genConfigLegacy)
	if fake.disabled != 1 {
		t.Fatalf("expected no repeat disable, got %d", fake.disabled)
	}

	write64(t, d, regGenConfig, genConfigEnable)
	if fake.enabled != 1 {
		t.Fatalf("expected PIT reenabled when leaving legacy mode, got %d", fake.enabled)
	}
}

func TestResetLeavesLegacyMode(t *testing.T) {
	fake := registerFakePIT(t)
	clock := vclock.NewManual(1_000_000_000)
	d := New(testBase, clock, nil)

	write64(t, d, regGenConfig, genConfigEnable|genConfigLegacy)
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if fake.enabled != 1 {
		t.Fatalf("expected PIT reenabled by HPET reset, got %d", fake.enabled)
	}
	if cfg := read64(t, d, regGenConfig); cfg != 0 {
		t.Fatalf("expected config cleared by reset, got 0x%x", cfg)
	}
}

func TestCapabilitiesReport(t *testing.T) {
	clock := vclock.NewManual(1_000_000_000)
	d := New(testBase, clock, nil)

	caps := read64(t, d, regGenCap)
	if period := caps >> 32; period != clockPeriodFemtoseconds {
		t.Fatalf("expected period %d fs, got %d", clockPeriodFemtoseconds, period)
	}
	if vendor := (caps >> 16) & 0xFFFF; vendor != vendorID {
		t.Fatalf("expected vendor 0x%04x, got 0x%04x", vendorID, vendor)
	}
}

func TestComparatorFiresLegacyIRQ0(t *testing.T) {
	fake := registerFakePIT(t)
	_ = fake
	clock := vclock.NewManual(1_000_000_000)

	var irqs []uint32
	sink := sinkFunc(func(irq uint32, level bool) error {
		if level {
			irqs = append(irqs, irq)
		}
		return nil
	})
	d := New(testBase, clock, sink)

	// Enable comparator 0 at count 1000, then start the counter in
	// legacy mode.
	write64(t, d, regTimerConfig, 1<<2)
	write64(t, d, regTimerConfig+0x08, 1000)
	write64(t, d, regGenConfig, genConfigEnable|genConfigLegacy)

	clock.Advance(11_000) // 1100 HPET ticks at 10ns each
	_ = read64(t, d, regMainCounter)

	if len(irqs) != 1 || irqs[0] != 0 {
		t.Fatalf("expected one IRQ 0 pulse in legacy mode, got %v", irqs)
	}
}

type sinkFunc func(irq uint32, level bool) error

func (f sinkFunc) SetIRQ(irq uint32, level bool) error { return f(irq, level) }
