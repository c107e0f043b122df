package pit

import (
	"fmt"

	"github.com/tinyrange/i8254/internal/hv"
)

const port61Address uint16 = 0x61

// Port61 implements the legacy port 0x61 speaker/timer gate register.
// Bit 0 drives the PIT's channel 2 gate, bit 5 reflects channel 2's OUT
// pin, and bit 4 toggles on every read to imitate the refresh signal.
type Port61 struct {
	pit *PIT

	gate        bool
	speakerData bool
	refresh     bool
}

// NewPort61 wires the speaker register to the given PIT.
func NewPort61(p *PIT) *Port61 {
	return &Port61{pit: p}
}

// Init implements hv.Device.
func (p *Port61) Init(vm hv.VirtualMachine) error {
	_ = vm
	return nil
}

// IOPorts implements hv.X86IOPortDevice.
func (p *Port61) IOPorts() []uint16 { return []uint16{port61Address} }

// ReadIOPort implements hv.X86IOPortDevice.
func (p *Port61) ReadIOPort(ctx hv.ExitContext, port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("port61: invalid read size %d", len(data))
	}
	if port != port61Address {
		return fmt.Errorf("port61: invalid read port 0x%04x", port)
	}

	var val byte
	if p.gate {
		val |= 1 << 0
	}
	if p.speakerData {
		val |= 1 << 1
	}
	if p.refresh {
		val |= 1 << 4
	}
	if p.pit != nil && p.pit.channel2OutputHigh(p.pit.clock.Now()) {
		val |= 1 << 5
	}

	p.refresh = !p.refresh
	data[0] = val
	return nil
}

// WriteIOPort implements hv.X86IOPortDevice.
func (p *Port61) WriteIOPort(ctx hv.ExitContext, port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("port61: invalid write size %d", len(data))
	}
	if port != port61Address {
		return fmt.Errorf("port61: invalid write port 0x%04x", port)
	}

	val := data[0]
	p.gate = val&1 != 0
	p.speakerData = val&(1<<1) != 0

	if p.pit != nil {
		_ = p.pit.SetGate(2, p.gate)
	}
	return nil
}

var (
	_ hv.Device          = (*Port61)(nil)
	_ hv.X86IOPortDevice = (*Port61)(nil)
)
