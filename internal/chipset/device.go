package chipset

import "github.com/tinyrange/i8254/internal/hv"

// PortIOHandler handles reads and writes to individual I/O ports.
type PortIOHandler interface {
	ReadIOPort(ctx hv.ExitContext, port uint16, data []byte) error
	WriteIOPort(ctx hv.ExitContext, port uint16, data []byte) error
}

// MmioHandler handles reads and writes to memory-mapped regions.
type MmioHandler interface {
	ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error
	WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error
}

// ChangeDeviceState exposes lifecycle hooks for chipset devices. Devices
// that do not implement it are treated as always-on.
type ChangeDeviceState interface {
	Start() error
	Stop() error
	Reset() error
}

// LineInterrupt models an interrupt line that supports level and edge
// semantics.
type LineInterrupt interface {
	SetLevel(high bool)
	PulseInterrupt()
}
