// Package i8254 assembles the legacy PC timer block: the 8254 interval
// timer behind its four-port window, the port 0x61 speaker gate register
// and, optionally, an HPET peer that can take over the timer interrupt.
package i8254

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/tinyrange/i8254/internal/chipset"
	"github.com/tinyrange/i8254/internal/devices/hpet"
	"github.com/tinyrange/i8254/internal/devices/pit"
	"github.com/tinyrange/i8254/internal/hv"
	"github.com/tinyrange/i8254/internal/vclock"
)

// Board owns the chipset dispatch tables and the devices built from a
// Config. The clock and the interrupt sink are borrowed collaborators.
type Board struct {
	clock   vclock.TimerClock
	chipset *chipset.Chipset
	lines   *chipset.LineSet
	sink    chipset.InterruptSink

	pit     *pit.PIT
	speaker *pit.Port61
	hpet    *hpet.Device
}

// BoardOption customises Board construction.
type BoardOption func(*Board)

// WithClock overrides the virtual time source (used by tests and by
// hosts that already carry a VM clock).
func WithClock(clock vclock.TimerClock) BoardOption {
	return func(b *Board) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// NewBoard wires the configured devices into a chipset. Interrupt level
// changes are delivered to sink; pass nil to drop them.
func NewBoard(cfg Config, sink chipset.InterruptSink, opts ...BoardOption) (*Board, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	b := &Board{
		clock: vclock.NewHostClock(),
		sink:  sink,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lines = chipset.NewLineSet(sink)

	builder := chipset.NewBuilder()

	b.pit = pit.New(b.clock, b.lines.AllocateLine(cfg.PIT.IRQ), pit.WithIOBase(cfg.PIT.IOBase))
	if err := builder.RegisterDevice("pit", b.pit); err != nil {
		return nil, err
	}

	if cfg.SpeakerPort {
		b.speaker = pit.NewPort61(b.pit)
		if err := builder.RegisterDevice("port61", b.speaker); err != nil {
			return nil, err
		}
	}

	if cfg.HPET.Enabled {
		b.hpet = hpet.New(cfg.HPET.Base, b.clock, nil)
		if err := builder.RegisterDevice("hpet", b.hpet); err != nil {
			return nil, err
		}
	}

	built, err := builder.Build()
	if err != nil {
		return nil, err
	}
	b.chipset = built

	if err := b.chipset.Init(b); err != nil {
		return nil, err
	}
	return b, nil
}

// SetIRQ implements hv.VirtualMachine by forwarding line changes to the
// configured sink.
func (b *Board) SetIRQ(irqLine uint32, level bool) error {
	if irqLine > 0xFF {
		return fmt.Errorf("board: irq line %d out of range", irqLine)
	}
	if b.sink != nil {
		b.sink.SetIRQ(uint8(irqLine), level)
	}
	return nil
}

// Clock returns the board's virtual time source.
func (b *Board) Clock() vclock.TimerClock { return b.clock }

// PIT returns the interval timer for direct access (gates, accessors).
func (b *Board) PIT() *pit.PIT { return b.pit }

// IRQLevel reports the current level of an interrupt line.
func (b *Board) IRQLevel(irq uint8) bool { return b.lines.Level(irq) }

// Outb writes one byte to an I/O port.
func (b *Board) Outb(port uint16, val byte) error {
	return b.chipset.HandlePIO(nil, port, []byte{val}, true)
}

// Inb reads one byte from an I/O port.
func (b *Board) Inb(port uint16) (byte, error) {
	data := []byte{0}
	if err := b.chipset.HandlePIO(nil, port, data, false); err != nil {
		return 0, err
	}
	return data[0], nil
}

// WriteMMIO forwards a memory-mapped write (the HPET window).
func (b *Board) WriteMMIO(addr uint64, data []byte) error {
	return b.chipset.HandleMMIO(nil, addr, data, true)
}

// ReadMMIO forwards a memory-mapped read.
func (b *Board) ReadMMIO(addr uint64, data []byte) error {
	return b.chipset.HandleMMIO(nil, addr, data, false)
}

// Reset returns every device to its power-on state.
func (b *Board) Reset() error { return b.chipset.Reset() }

// Start activates the devices.
func (b *Board) Start() error { return b.chipset.Start() }

// Stop halts timers and withdraws registry entries.
func (b *Board) Stop() error { return b.chipset.Stop() }

// CaptureSnapshot collects snapshots from every device that supports
// them, keyed by device id.
func (b *Board) CaptureSnapshot() (map[string]hv.DeviceSnapshot, error) {
	snaps := make(map[string]hv.DeviceSnapshot)
	for _, dev := range b.chipset.Snapshotters() {
		snap, err := dev.CaptureSnapshot()
		if err != nil {
			return nil, fmt.Errorf("board: capture %q: %w", dev.DeviceId(), err)
		}
		snaps[dev.DeviceId()] = snap
	}
	return snaps, nil
}

// RestoreSnapshot pushes previously captured snapshots back into the
// matching devices. Unknown ids are ignored.
func (b *Board) RestoreSnapshot(snaps map[string]hv.DeviceSnapshot) error {
	for _, dev := range b.chipset.Snapshotters() {
		snap, ok := snaps[dev.DeviceId()]
		if !ok {
			continue
		}
		if err := dev.RestoreSnapshot(snap); err != nil {
			return fmt.Errorf("board: restore %q: %w", dev.DeviceId(), err)
		}
	}
	return nil
}

// SaveSnapshot gob-encodes the board's device snapshots to w.
func (b *Board) SaveSnapshot(w io.Writer) error {
	snaps, err := b.CaptureSnapshot()
	if err != nil {
		return err
	}
	return gob.NewEncoder(w).Encode(snaps)
}

// LoadSnapshot decodes device snapshots from r and restores them.
func (b *Board) LoadSnapshot(r io.Reader) error {
	var snaps map[string]hv.DeviceSnapshot
	if err := gob.NewDecoder(r).Decode(&snaps); err != nil {
		return fmt.Errorf("board: decode snapshot: %w", err)
	}
	return b.RestoreSnapshot(snaps)
}

var _ hv.VirtualMachine = (*Board)(nil)
