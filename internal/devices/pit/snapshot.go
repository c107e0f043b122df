package pit

import (
	"fmt"

	"github.com/tinyrange/i8254/internal/hv"
)

// snapshotVersion tracks the channelSnapshot layout. Older or newer
// layouts are rejected on restore.
const snapshotVersion = 2

type channelSnapshot struct {
	Count              int
	LatchedCount       uint16
	CountLatched       uint8
	StatusLatched      bool
	Status             byte
	ReadState          uint8
	WriteState         uint8
	WriteLatch         byte
	RWMode             uint8
	Mode               uint8
	BCD                bool
	Gate               bool
	CountLoadTime      int64
	NextTransitionTime int64
}

type pitSnapshot struct {
	Version  int
	Channels [3]channelSnapshot

	// Channel 0's one-shot arming state. TimerDeadline is the absolute
	// host tick it would fire at.
	TimerArmed    bool
	TimerDeadline int64
}

// DeviceId implements hv.DeviceSnapshotter.
func (p *PIT) DeviceId() string { return DeviceClass }

// CaptureSnapshot implements hv.DeviceSnapshotter.
func (p *PIT) CaptureSnapshot() (hv.DeviceSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := &pitSnapshot{Version: snapshotVersion}
	for i, ch := range p.channels {
		snap.Channels[i] = channelSnapshot{
			Count:              ch.count,
			LatchedCount:       ch.latchedCount,
			CountLatched:       uint8(ch.countLatched),
			StatusLatched:      ch.statusLatched,
			Status:             ch.status,
			ReadState:          uint8(ch.readState),
			WriteState:         uint8(ch.writeState),
			WriteLatch:         ch.writeLatch,
			RWMode:             uint8(ch.rwMode),
			Mode:               uint8(ch.mode),
			BCD:                ch.bcd,
			Gate:               ch.gate,
			CountLoadTime:      ch.countLoadTime,
			NextTransitionTime: ch.nextTransitionTime,
		}
	}
	ch0 := p.channels[0]
	snap.TimerArmed = ch0.timerArmed
	snap.TimerDeadline = ch0.nextTransitionTime
	return snap, nil
}

// RestoreSnapshot implements hv.DeviceSnapshotter.
func (p *PIT) RestoreSnapshot(snap hv.DeviceSnapshot) error {
	data, ok := snap.(*pitSnapshot)
	if !ok {
		return fmt.Errorf("pit: invalid snapshot type %T", snap)
	}
	if data.Version != snapshotVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, data.Version)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i, cs := range data.Channels {
		ch := p.channels[i]
		ch.count = cs.Count
		ch.latchedCount = cs.LatchedCount
		ch.countLatched = rwState(cs.CountLatched)
		ch.statusLatched = cs.StatusLatched
		ch.status = cs.Status
		ch.readState = rwState(cs.ReadState)
		ch.writeState = rwState(cs.WriteState)
		ch.writeLatch = cs.WriteLatch
		ch.rwMode = rwState(cs.RWMode)
		ch.mode = countMode(cs.Mode)
		ch.bcd = cs.BCD
		ch.gate = cs.Gate
		ch.countLoadTime = cs.CountLoadTime
		ch.nextTransitionTime = cs.NextTransitionTime
	}

	ch0 := p.channels[0]
	if ch0.timer != nil {
		if data.TimerArmed {
			ch0.timer.Arm(data.TimerDeadline)
			ch0.timerArmed = true
		} else {
			ch0.timer.Cancel()
			ch0.timerArmed = false
		}
	}
	return nil
}

var _ hv.DeviceSnapshotter = (*PIT)(nil)
