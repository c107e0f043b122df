package chipset

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/tinyrange/i8254/internal/hv"
)

// Start activates all registered devices that expose lifecycle hooks.
func (c *Chipset) Start() error {
	for _, name := range c.deviceNames() {
		if state, ok := c.devices[name].(ChangeDeviceState); ok {
			if err := state.Start(); err != nil {
				return fmt.Errorf("chipset: start device %q: %w", name, err)
			}
		}
	}
	return nil
}

// Stop deactivates all registered devices that expose lifecycle hooks.
func (c *Chipset) Stop() error {
	for _, name := range c.deviceNames() {
		if state, ok := c.devices[name].(ChangeDeviceState); ok {
			if err := state.Stop(); err != nil {
				return fmt.Errorf("chipset: stop device %q: %w", name, err)
			}
		}
	}
	return nil
}

// Reset resets all registered devices that expose lifecycle hooks.
func (c *Chipset) Reset() error {
	for _, name := range c.deviceNames() {
		if state, ok := c.devices[name].(ChangeDeviceState); ok {
			if err := state.Reset(); err != nil {
				return fmt.Errorf("chipset: reset device %q: %w", name, err)
			}
		}
	}
	return nil
}

// Init runs every device's Init hook against the owning VM context.
func (c *Chipset) Init(vm hv.VirtualMachine) error {
	for _, name := range c.deviceNames() {
		if err := c.devices[name].Init(vm); err != nil {
			return fmt.Errorf("chipset: init device %q: %w", name, err)
		}
	}
	return nil
}

// HandlePIO dispatches an I/O port access to the registered device.
func (c *Chipset) HandlePIO(ctx hv.ExitContext, port uint16, data []byte, isWrite bool) error {
	handler, ok := c.pio[port]
	if !ok {
		return fmt.Errorf("chipset: no handler for I/O port 0x%04x", port)
	}
	slog.Debug("chipset pio", "handler", fmt.Sprintf("%T", handler), "port", port, "write", isWrite)
	if isWrite {
		return handler.WriteIOPort(ctx, port, data)
	}
	return handler.ReadIOPort(ctx, port, data)
}

// HandleMMIO dispatches an MMIO access to the registered device.
func (c *Chipset) HandleMMIO(ctx hv.ExitContext, addr uint64, data []byte, isWrite bool) error {
	accessEnd := addr + uint64(len(data))
	if accessEnd < addr {
		return fmt.Errorf("chipset: MMIO access overflow at 0x%016x", addr)
	}

	for _, binding := range c.mmio {
		start := binding.region.Address
		end := start + binding.region.Size
		if addr >= start && accessEnd <= end {
			if isWrite {
				return binding.handler.WriteMMIO(ctx, addr, data)
			}
			return binding.handler.ReadMMIO(ctx, addr, data)
		}
	}

	return fmt.Errorf("chipset: no handler for MMIO address 0x%016x", addr)
}

// Snapshotters returns every registered device that supports snapshots,
// in name order.
func (c *Chipset) Snapshotters() []hv.DeviceSnapshotter {
	var out []hv.DeviceSnapshotter
	for _, name := range c.deviceNames() {
		if snap, ok := c.devices[name].(hv.DeviceSnapshotter); ok {
			out = append(out, snap)
		}
	}
	return out
}

func (c *Chipset) deviceNames() []string {
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
