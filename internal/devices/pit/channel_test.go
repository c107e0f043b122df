package pit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tinyrange/i8254/internal/vclock"
)

// pitClock runs one host tick per PIT tick, so elapsed PIT time equals
// the raw clock reading.
func pitClock() *vclock.Manual {
	return vclock.NewManual(Frequency)
}

func loadedChannel(clock *vclock.Manual, mode countMode, count int) *channel {
	ch := newChannel(clock)
	ch.mode = mode
	ch.gate = true
	ch.loadCount(count, clock.Now())
	return ch
}

func TestCurrentCountByMode(t *testing.T) {
	type testCase struct {
		name  string
		mode  countMode
		count int
		d     int64
		want  uint16
	}

	cases := []testCase{
		{name: "mode0 counting", mode: modeInterruptOnTerminal, count: 100, d: 30, want: 70},
		{name: "mode0 past terminal wraps", mode: modeInterruptOnTerminal, count: 100, d: 150, want: 65486},
		{name: "mode1 counting", mode: modeHardwareOneShot, count: 100, d: 30, want: 70},
		{name: "mode2 at load", mode: modeRateGenerator, count: 100, d: 0, want: 100},
		{name: "mode2 counting", mode: modeRateGenerator, count: 100, d: 30, want: 70},
		{name: "mode2 reloads", mode: modeRateGenerator, count: 100, d: 230, want: 70},
		{name: "mode3 counts by two", mode: modeSquareWave, count: 100, d: 30, want: 40},
		{name: "mode3 second half", mode: modeSquareWave, count: 100, d: 60, want: 80},
		{name: "mode4 counting", mode: modeSoftwareStrobe, count: 100, d: 40, want: 60},
		{name: "mode5 counting", mode: modeHardwareStrobe, count: 100, d: 40, want: 60},
		{name: "full period reads zero at load", mode: modeInterruptOnTerminal, count: 0x10000, d: 0, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := pitClock()
			ch := loadedChannel(clock, tc.mode, tc.count)
			clock.Advance(tc.d)
			assert.Equal(t, tc.want, ch.currentCount(clock.Now()))
		})
	}
}

func TestOutputByMode(t *testing.T) {
	type testCase struct {
		name  string
		mode  countMode
		count int
		d     int64
		want  bool
	}

	cases := []testCase{
		{name: "mode0 low while counting", mode: modeInterruptOnTerminal, count: 100, d: 99, want: false},
		{name: "mode0 high at terminal", mode: modeInterruptOnTerminal, count: 100, d: 100, want: true},
		{name: "mode0 stays high", mode: modeInterruptOnTerminal, count: 100, d: 500, want: true},
		{name: "mode1 high while counting", mode: modeHardwareOneShot, count: 100, d: 99, want: true},
		{name: "mode1 low at terminal", mode: modeHardwareOneShot, count: 100, d: 100, want: false},
		{name: "mode2 low at load", mode: modeRateGenerator, count: 100, d: 0, want: false},
		{name: "mode2 pulse at period", mode: modeRateGenerator, count: 100, d: 100, want: true},
		{name: "mode2 low after pulse", mode: modeRateGenerator, count: 100, d: 101, want: false},
		{name: "mode2 pulse repeats", mode: modeRateGenerator, count: 100, d: 300, want: true},
		{name: "mode4 strobe only at terminal", mode: modeSoftwareStrobe, count: 100, d: 100, want: true},
		{name: "mode4 done after strobe", mode: modeSoftwareStrobe, count: 100, d: 101, want: false},
		{name: "mode5 strobe only at terminal", mode: modeHardwareStrobe, count: 100, d: 100, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := pitClock()
			ch := loadedChannel(clock, tc.mode, tc.count)
			clock.Advance(tc.d)
			assert.Equal(t, tc.want, ch.outputHigh(clock.Now()))
		})
	}
}

func TestSquareWavePattern(t *testing.T) {
	clock := pitClock()
	ch := loadedChannel(clock, modeSquareWave, 4)

	want := []bool{true, true, false, false, true, true, false, false}
	for offset, high := range want {
		assert.Equal(t, high, ch.outputHigh(int64(offset)), "offset %d", offset)
	}
}

func TestSquareWaveOddCountHalves(t *testing.T) {
	// With an odd count the high half runs one tick longer.
	clock := pitClock()
	ch := loadedChannel(clock, modeSquareWave, 5)

	want := []bool{true, true, true, false, false, true, true, true, false, false}
	for offset, high := range want {
		assert.Equal(t, high, ch.outputHigh(int64(offset)), "offset %d", offset)
	}
}

func TestNextTransitionByMode(t *testing.T) {
	type testCase struct {
		name  string
		mode  countMode
		count int
		d     int64
		want  int64 // -1 for no transition
	}

	cases := []testCase{
		{name: "mode0 terminal", mode: modeInterruptOnTerminal, count: 100, d: 0, want: 100},
		{name: "mode0 finished", mode: modeInterruptOnTerminal, count: 100, d: 100, want: -1},
		{name: "mode1 terminal", mode: modeHardwareOneShot, count: 100, d: 40, want: 100},
		{name: "mode1 finished", mode: modeHardwareOneShot, count: 100, d: 200, want: -1},
		{name: "mode2 first falling edge", mode: modeRateGenerator, count: 100, d: 0, want: 101},
		{name: "mode2 on pulse", mode: modeRateGenerator, count: 100, d: 100, want: 200},
		{name: "mode2 mid period", mode: modeRateGenerator, count: 100, d: 150, want: 201},
		{name: "mode3 half period", mode: modeSquareWave, count: 100, d: 0, want: 50},
		{name: "mode3 full period", mode: modeSquareWave, count: 100, d: 50, want: 100},
		{name: "mode3 odd half rounds up", mode: modeSquareWave, count: 5, d: 0, want: 3},
		{name: "mode3 odd full period", mode: modeSquareWave, count: 5, d: 3, want: 5},
		{name: "mode4 terminal", mode: modeSoftwareStrobe, count: 100, d: 0, want: 100},
		{name: "mode4 strobe end", mode: modeSoftwareStrobe, count: 100, d: 100, want: 101},
		{name: "mode4 finished", mode: modeSoftwareStrobe, count: 100, d: 101, want: -1},
		{name: "mode5 strobe end", mode: modeHardwareStrobe, count: 100, d: 100, want: 101},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := pitClock()
			ch := loadedChannel(clock, tc.mode, tc.count)
			clock.Advance(tc.d)
			assert.Equal(t, tc.want, ch.nextTransition(clock.Now()))
		})
	}
}

func TestNextTransitionAlwaysAfterNow(t *testing.T) {
	for _, mode := range []countMode{
		modeInterruptOnTerminal, modeHardwareOneShot, modeRateGenerator,
		modeSquareWave, modeSoftwareStrobe, modeHardwareStrobe,
	} {
		clock := pitClock()
		ch := loadedChannel(clock, mode, 1)
		for d := int64(0); d < 10; d++ {
			clock.AdvanceTo(d)
			next := ch.nextTransition(d)
			if next != -1 {
				assert.Greater(t, next, d, "mode %d at d=%d", mode, d)
			}
		}
	}
}

func TestDecodeModeAliases(t *testing.T) {
	assert.Equal(t, modeRateGenerator, decodeMode(6))
	assert.Equal(t, modeSquareWave, decodeMode(7))
	for bits := byte(0); bits < 6; bits++ {
		assert.Equal(t, countMode(bits), decodeMode(bits))
	}
	// The mode field is masked with 7 before decoding.
	assert.Equal(t, countMode(2), decodeMode(0b1010))
}

func TestLoadCountNormalizesZero(t *testing.T) {
	clock := pitClock()
	ch := newChannel(clock)
	ch.loadCount(0, 0)
	assert.Equal(t, 0x10000, ch.count)
	assert.Equal(t, uint16(0), ch.currentCount(0))
}

func TestLatchCountKeepsFirstSnapshot(t *testing.T) {
	clock := pitClock()
	ch := loadedChannel(clock, modeInterruptOnTerminal, 1000)

	clock.Advance(100)
	ch.latchCount(clock.Now())
	first := ch.latchedCount
	assert.Equal(t, uint16(900), first)

	clock.Advance(100)
	ch.latchCount(clock.Now())
	assert.Equal(t, first, ch.latchedCount)
}
