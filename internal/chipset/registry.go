package chipset

import (
	"fmt"
	"log/slog"
	"sync"
)

// Device classes let cooperating devices address a well-known peer (for
// example the HPET's legacy-replacement route reaches the PIT) without
// holding a direct reference. The registry lives for the process; entries
// are added at device Init and removed at device teardown.

var (
	classMu sync.Mutex
	classes = make(map[string]any)
)

// RegisterClass publishes dev under the given class name.
func RegisterClass(class string, dev any) error {
	classMu.Lock()
	defer classMu.Unlock()
	if dev == nil {
		return fmt.Errorf("chipset: class %q device is nil", class)
	}
	if _, exists := classes[class]; exists {
		return fmt.Errorf("chipset: class %q already registered", class)
	}
	classes[class] = dev
	slog.Debug("chipset class registered", "class", class, "device", fmt.Sprintf("%T", dev))
	return nil
}

// LookupClass returns the device registered under class, or nil.
func LookupClass(class string) any {
	classMu.Lock()
	defer classMu.Unlock()
	return classes[class]
}

// UnregisterClass removes the entry for class. Removing an absent class
// is a no-op.
func UnregisterClass(class string) {
	classMu.Lock()
	defer classMu.Unlock()
	delete(classes, class)
}
