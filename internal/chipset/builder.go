package chipset

import (
	"fmt"

	"github.com/tinyrange/i8254/internal/hv"
)

// InterruptSink receives interrupt assertions for a given line.
type InterruptSink interface {
	SetIRQ(line uint8, level bool)
}

type mmioBinding struct {
	region  hv.MMIORegion
	handler MmioHandler
}

// ChipsetBuilder registers devices and their intercepts before creating a
// Chipset. Port and MMIO claims are validated as devices are added.
type ChipsetBuilder struct {
	devices map[string]hv.Device
	pio     map[uint16]PortIOHandler
	mmio    []mmioBinding
}

// NewBuilder returns an empty ChipsetBuilder instance.
func NewBuilder() *ChipsetBuilder {
	return &ChipsetBuilder{
		devices: make(map[string]hv.Device),
		pio:     make(map[uint16]PortIOHandler),
	}
}

// RegisterDevice adds a device and wires up whichever intercepts it
// implements: I/O ports for hv.X86IOPortDevice, MMIO windows for
// hv.MemoryMappedIODevice.
func (b *ChipsetBuilder) RegisterDevice(name string, dev hv.Device) error {
	if b == nil {
		return fmt.Errorf("chipset builder is nil")
	}
	if name == "" {
		return fmt.Errorf("device name is empty")
	}
	if dev == nil {
		return fmt.Errorf("device %q is nil", name)
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("device %q already registered", name)
	}

	if pio, ok := dev.(hv.X86IOPortDevice); ok {
		for _, port := range pio.IOPorts() {
			if err := b.WithPioPort(port, pio); err != nil {
				return fmt.Errorf("device %q: %w", name, err)
			}
		}
	}

	if mmio, ok := dev.(hv.MemoryMappedIODevice); ok {
		for _, region := range mmio.MMIORegions() {
			if err := b.WithMmioRegion(region.Address, region.Size, mmio); err != nil {
				return fmt.Errorf("device %q: %w", name, err)
			}
		}
	}

	b.devices[name] = dev
	return nil
}

// WithPioPort registers a single I/O port handler.
func (b *ChipsetBuilder) WithPioPort(port uint16, handler PortIOHandler) error {
	if handler == nil {
		return fmt.Errorf("PIO handler for port 0x%x is nil", port)
	}
	if _, exists := b.pio[port]; exists {
		return fmt.Errorf("PIO port 0x%x already registered", port)
	}
	b.pio[port] = handler
	return nil
}

// WithMmioRegion registers a memory-mapped region handler.
func (b *ChipsetBuilder) WithMmioRegion(base, size uint64, handler MmioHandler) error {
	if handler == nil {
		return fmt.Errorf("MMIO handler for region 0x%x size 0x%x is nil", base, size)
	}
	if size == 0 {
		return fmt.Errorf("MMIO region at 0x%x has zero size", base)
	}
	if base+size < base {
		return fmt.Errorf("MMIO region at 0x%x with size 0x%x overflows", base, size)
	}
	for _, existing := range b.mmio {
		if regionsOverlap(base, size, existing.region.Address, existing.region.Size) {
			return fmt.Errorf(
				"MMIO region 0x%x-0x%x overlaps existing region 0x%x-0x%x",
				base, base+size-1, existing.region.Address, existing.region.Address+existing.region.Size-1)
		}
	}

	b.mmio = append(b.mmio, mmioBinding{
		region: hv.MMIORegion{
			Address: base,
			Size:    size,
		},
		handler: handler,
	})
	return nil
}

// Build finalizes the chipset layout and returns the constructed Chipset.
func (b *ChipsetBuilder) Build() (*Chipset, error) {
	if b == nil {
		return nil, fmt.Errorf("chipset builder is nil")
	}

	devices := make(map[string]hv.Device, len(b.devices))
	for name, dev := range b.devices {
		devices[name] = dev
	}

	pio := make(map[uint16]PortIOHandler, len(b.pio))
	for port, handler := range b.pio {
		pio[port] = handler
	}

	mmio := make([]mmioBinding, len(b.mmio))
	copy(mmio, b.mmio)

	return &Chipset{
		devices: devices,
		pio:     pio,
		mmio:    mmio,
	}, nil
}

func regionsOverlap(baseA, sizeA, baseB, sizeB uint64) bool {
	endA := baseA + sizeA
	endB := baseB + sizeB
	return baseA < endB && baseB < endA
}

// Chipset represents the built dispatch tables for chipset devices.
type Chipset struct {
	devices map[string]hv.Device
	pio     map[uint16]PortIOHandler
	mmio    []mmioBinding
}
