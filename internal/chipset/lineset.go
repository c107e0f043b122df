package chipset

import "sync"

// LineSet manages a bank of interrupt lines and forwards level changes to
// a single sink. Repeated assertions of an unchanged level are swallowed.
type LineSet struct {
	mu sync.Mutex

	sink  InterruptSink
	lines map[uint8]*lineState
}

// NewLineSet builds a LineSet that forwards assertions to the provided
// sink.
func NewLineSet(sink InterruptSink) *LineSet {
	if sink == nil {
		sink = noopInterruptSink{}
	}
	return &LineSet{
		sink:  sink,
		lines: make(map[uint8]*lineState),
	}
}

// AllocateLine returns a LineInterrupt handle for the given IRQ line.
func (l *LineSet) AllocateLine(irq uint8) LineInterrupt {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.lines[irq]; !ok {
		l.lines[irq] = &lineState{}
	}
	return &lineHandle{owner: l, irq: irq}
}

// Level reports the current level of the given line.
func (l *LineSet) Level(irq uint8) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.lines[irq]
	if state == nil {
		return false
	}
	return state.level
}

type lineState struct {
	level bool
}

type lineHandle struct {
	owner *LineSet
	irq   uint8
}

func (h *lineHandle) SetLevel(high bool) {
	h.owner.setLevel(h.irq, high)
}

func (h *lineHandle) PulseInterrupt() {
	h.owner.pulse(h.irq)
}

func (l *LineSet) setLevel(irq uint8, high bool) {
	l.mu.Lock()
	state := l.lines[irq]
	if state == nil {
		state = &lineState{}
		l.lines[irq] = state
	}
	changed := state.level != high
	state.level = high
	l.mu.Unlock()

	if changed {
		l.sink.SetIRQ(irq, high)
	}
}

func (l *LineSet) pulse(irq uint8) {
	l.sink.SetIRQ(irq, true)
	l.sink.SetIRQ(irq, false)
}

type noopInterruptSink struct{}

func (noopInterruptSink) SetIRQ(uint8, bool) {}

// IRQLineFunc adapts a function to the InterruptSink interface.
type IRQLineFunc func(line uint8, level bool)

// SetIRQ implements InterruptSink.
func (f IRQLineFunc) SetIRQ(line uint8, level bool) {
	if f != nil {
		f(line, level)
	}
}
