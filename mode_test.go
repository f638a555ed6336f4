package pca9685

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

func TestStart(t *testing.T) {

	d, c := newTestDevice(t)
	require.NoError(t, d.Start())

	assert.Equal(t, MODE1_ALLCALL|MODE1_AI, c.regs[MODE1])

	// read, wake, then the oscillator delay with nothing after it
	require.Len(t, c.ops, 3, "%v", c.ops)
	assert.Equal(t, byte('r'), c.ops[0].kind)
	assert.Equal(t, byte('w'), c.ops[1].kind)
	assert.Equal(t, byte('d'), c.ops[2].kind)
	assert.True(t, c.ops[2].delay >= OscillatorSettle)
}

func TestStartRestart(t *testing.T) {

	d, c := newTestDevice(t)
	require.NoError(t, d.Start())
	require.NoError(t, d.Sleep())
	require.NotZero(t, c.regs[MODE1]&MODE1_RESTART)
	c.reset()

	require.NoError(t, d.Start())

	w := c.writes(MODE1)
	require.Len(t, w, 2)
	assert.Zero(t, w[0][0]&(MODE1_SLEEP|MODE1_RESTART))
	assert.NotZero(t, w[1][0]&MODE1_RESTART)

	// the restart write must follow the oscillator delay
	var delayed bool
	for _, o := range c.ops {
		if 'd' == o.kind && o.delay >= OscillatorSettle {
			delayed = true
		}
		if 'w' == o.kind && 0 != o.data[0]&MODE1_RESTART {
			assert.True(t, delayed, "restart before oscillator settled: %v", c.ops)
		}
	}
	assert.Zero(t, c.regs[MODE1]&(MODE1_SLEEP|MODE1_RESTART))
}

func TestSleepIdempotent(t *testing.T) {

	d, c := newTestDevice(t)
	require.NoError(t, d.Start())
	c.reset()

	require.NoError(t, d.Sleep())
	require.NoError(t, d.Sleep())

	assert.Len(t, c.writes(MODE1), 1)
	assert.Equal(t, 2, c.count('r'))
	assert.Equal(t, 1, c.count('d'))
	assert.NotZero(t, c.regs[MODE1]&MODE1_SLEEP)

	asleep, err := d.Asleep()
	require.NoError(t, err)
	assert.True(t, asleep)
}

func TestWakeup(t *testing.T) {

	d, c := newTestDevice(t)
	require.NoError(t, d.Wakeup())

	assert.Zero(t, c.regs[MODE1]&MODE1_SLEEP)
	assert.Zero(t, c.count('d'), "wakeup must not wait")

	asleep, err := d.Asleep()
	require.NoError(t, err)
	assert.False(t, asleep)
}

func TestWakeupThenSetChannel(t *testing.T) {

	d, c := newTestDevice(t)
	require.NoError(t, d.Wakeup())
	require.NotZero(t, c.regs[MODE1]&MODE1_AI, "MODE1 = %#08b", c.regs[MODE1])

	// fakeChip fails the test on a multi-byte transfer without auto-increment
	require.NoError(t, d.SetChannelDuty(0, 1024, false))
	on, off, err := d.Channel(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), on)
	assert.Equal(t, uint16(1024), off)
}

func TestReset(t *testing.T) {

	d, c := newTestDevice(t)
	require.NoError(t, d.Reset())

	require.Equal(t, [][]byte{{MODE1_RESTART | MODE1_AI}}, c.writes(MODE1))
	require.Len(t, c.ops, 2)
	assert.Equal(t, ResetSettle, c.ops[1].delay)
	assert.Zero(t, c.regs[MODE1]&MODE1_SLEEP)
}

func TestExternalClock(t *testing.T) {

	d, c := newTestDevice(t)
	require.NoError(t, d.Start())
	c.reset()

	require.NoError(t, d.SetExternalClock(40*physic.MegaHertz))

	assert.Equal(t, 40*physic.MegaHertz, d.OscillatorFrequency())
	assert.NotZero(t, c.regs[MODE1]&MODE1_EXTCLK)
	assert.Zero(t, c.regs[MODE1]&MODE1_SLEEP)

	// sleep, then EXTCLK together with SLEEP, then wake and restart
	w := c.writes(MODE1)
	require.Len(t, w, 4)
	assert.Zero(t, w[0][0]&MODE1_EXTCLK)
	ext := w[1][0]
	assert.Equal(t, MODE1_SLEEP|MODE1_EXTCLK, ext&(MODE1_SLEEP|MODE1_EXTCLK))

	on, err := d.ExternalClock()
	require.NoError(t, err)
	assert.True(t, on)

	// latched through reset
	require.NoError(t, d.Reset())
	on, err = d.ExternalClock()
	require.NoError(t, err)
	assert.True(t, on)
}

func TestExternalClockRange(t *testing.T) {

	d, c := newTestDevice(t)

	for _, f := range []physic.Frequency{0, -physic.Hertz, 51 * physic.MegaHertz} {
		err := d.SetExternalClock(f)
		assert.True(t, errors.Is(err, ErrClock), "%s: %v", f, err)
	}
	assert.Empty(t, c.ops)
	assert.Equal(t, InternalOscillator, d.OscillatorFrequency())
}

func TestSoftwareReset(t *testing.T) {

	d, c := newTestDevice(t)
	require.NoError(t, d.Start())
	require.NoError(t, d.SetExternalClock(10*physic.MegaHertz))
	c.reset()

	require.NoError(t, d.SoftwareReset())

	require.True(t, len(c.ops) >= 3)
	assert.Equal(t, op{kind: 'a', reg: 0x00}, c.ops[0])
	assert.Equal(t, byte('w'), c.ops[1].kind)
	assert.Equal(t, op{kind: 'a', reg: 0x40}, c.ops[2])
	assert.Equal(t, uint16(0x40), c.target)

	assert.Equal(t, InternalOscillator, d.OscillatorFrequency())
	on, err := d.ExternalClock()
	require.NoError(t, err)
	assert.False(t, on)
}

func TestSoftwareResetRetargets(t *testing.T) {

	d, c := newTestDevice(t)
	require.NoError(t, d.SetExternalClock(10*physic.MegaHertz))
	c.writeErr = errors.New("no ack on general call")

	err := d.SoftwareReset()
	var be *BusError
	require.True(t, errors.As(err, &be), "%v", err)
	assert.Equal(t, "reset", be.Op)
	assert.Equal(t, uint16(0x40), c.target)
	assert.Equal(t, 10*physic.MegaHertz, d.OscillatorFrequency(), "reset failed, clock unchanged")
}

func TestOscillatorAccessors(t *testing.T) {

	d, c := newTestDevice(t)
	require.NoError(t, d.SetOscillatorFrequency(24800*physic.KiloHertz))

	assert.Equal(t, 24800*physic.KiloHertz, d.OscillatorFrequency())
	assert.Empty(t, c.ops)
}

func TestOscillatorRange(t *testing.T) {

	d, _ := newTestDevice(t)

	for _, f := range []physic.Frequency{0, -physic.MegaHertz, 51 * physic.MegaHertz} {
		err := d.SetOscillatorFrequency(f)
		assert.True(t, errors.Is(err, ErrClock), "%s: %v", f, err)
	}
	assert.Equal(t, InternalOscillator, d.OscillatorFrequency())

	// the frequency range is still computed from a usable clock
	require.NoError(t, d.SetFrequency(50*physic.Hertz))
}

func TestOutputMode(t *testing.T) {

	d, c := newTestDevice(t)

	// power-on default is totem pole
	require.NoError(t, d.SetOutputMode(TotemPole))
	assert.Empty(t, c.writes(MODE2))

	require.NoError(t, d.SetOutputMode(OpenDrain))
	require.Equal(t, [][]byte{{0x00}}, c.writes(MODE2))

	m, err := d.OutputMode()
	require.NoError(t, err)
	assert.Equal(t, OpenDrain, m)

	c.reset()
	require.NoError(t, d.SetOutputMode(OpenDrain))
	assert.Empty(t, c.writes(MODE2))

	require.NoError(t, d.SetOutputMode(TotemPole))
	assert.Equal(t, [][]byte{{MODE2_OUTDRV}}, c.writes(MODE2))
}

func TestOutputModePreservesBits(t *testing.T) {

	d, c := newTestDevice(t)
	c.regs[MODE2] = MODE2_INVRT | MODE2_OCH | MODE2_OUTDRV

	require.NoError(t, d.SetOutputMode(OpenDrain))
	assert.Equal(t, MODE2_INVRT|MODE2_OCH, c.regs[MODE2])
}

func TestOutputModeInvalid(t *testing.T) {

	d, c := newTestDevice(t)
	err := d.SetOutputMode(OutputMode(7))

	assert.True(t, errors.Is(err, ErrOutputMode))
	assert.Empty(t, c.ops)
	assert.Equal(t, "OutputMode(7)", OutputMode(7).String())
	assert.Equal(t, "open-drain", OpenDrain.String())
}
