package pca9685

import (
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3/physic"
)

// channelReg returns the LEDn_ON_L register of channel ch.
func channelReg(ch int) uint8 { return LED0_ON_L + 4*uint8(ch) }

func validChannel(ch int) error {
	if ch < 0 || ch >= ChannelCount {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrChannel, ch, ChannelCount-1)
	}
	return nil
}

func validTicks(on, off uint16) error {
	if on > LEDFull || off > LEDFull {
		return fmt.Errorf("%w: on=%d off=%d exceeds %d", ErrTick, on, off, LEDFull)
	}
	return nil
}

// encodeTicks returns the four register bytes for an on/off pair in register
// order: ON_L, ON_H, OFF_L, OFF_H.
func encodeTicks(on, off uint16) []byte {
	return []byte{byte(on), byte(on >> 8), byte(off), byte(off >> 8)}
}

// DutyTicks returns the on/off tick pair for a duty level of onTick out of
// MaxTick, optionally inverted. onTick is clamped to MaxTick.
//
// The extremes use the chip's full on/full off bits rather than a 4095 tick
// pulse: a level of 0 (MaxTick inverted) encodes ON=0, OFF=LEDFull, and a
// level of MaxTick (0 inverted) encodes ON=LEDFull, OFF=0.
func DutyTicks(onTick uint16, invert bool) (on, off uint16) {
	if onTick > MaxTick {
		onTick = MaxTick
	}
	switch {
	case (!invert && 0 == onTick) || (invert && MaxTick == onTick):
		return 0, LEDFull
	case (!invert && MaxTick == onTick) || (invert && 0 == onTick):
		return LEDFull, 0
	case invert:
		return 0, MaxTick - onTick
	}
	return 0, onTick
}

// SetChannel writes the tick at which channel ch turns on and the tick at
// which it turns off, both in [0, MaxTick] counted from the start of the PWM
// period. LEDFull in either slot sets the full on/off bit.
//
// The four registers are written in one auto-increment transfer, low byte
// first. Start, Wakeup, Reset and every prescale change enable MODE1_AI; a
// chip fresh from power-on has it clear and must be woken through one of them.
//
// Returns ErrChannel or ErrTick before any bus access if ch or a tick is out
// of range, or a *BusError if the write failed.
func (d *PCA9685) SetChannel(ch int, on, off uint16) error {

	if err := validChannel(ch); nil != err {
		return err
	}
	if err := validTicks(on, off); nil != err {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writeRegs(channelReg(ch), encodeTicks(on, off)...)
}

// Channel reads back the on/off ticks of channel ch, including the full on/off
// bits.
func (d *PCA9685) Channel(ch int) (on, off uint16, err error) {

	if err := validChannel(ch); nil != err {
		return 0, 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	buf := make([]byte, 4)
	if err := d.readRegs(channelReg(ch), buf); nil != err {
		return 0, 0, err
	}

	// bits 5-7 of the high bytes are reserved
	on = (uint16(buf[1]&0x1F) << 8) | uint16(buf[0])
	off = (uint16(buf[3]&0x1F) << 8) | uint16(buf[2])
	return on, off, nil
}

// SetChannelDuty sets channel ch to a duty level of onTick out of MaxTick,
// using DutyTicks for the encoding.
func (d *PCA9685) SetChannelDuty(ch int, onTick uint16, invert bool) error {
	on, off := DutyTicks(onTick, invert)
	return d.SetChannel(ch, on, off)
}

// SetAllChannels writes the same on/off ticks to every channel through the
// ALL_LED registers.
func (d *PCA9685) SetAllChannels(on, off uint16) error {

	if err := validTicks(on, off); nil != err {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writeRegs(ALL_LED_ON_L, encodeTicks(on, off)...)
}

// SetPulseWidth drives channel ch high for width at the start of every PWM
// period. The tick length is derived from the PRE_SCALE register and the
// tracked oscillator frequency, so the result is only as accurate as
// OscillatorFrequency. A width of 0 turns the channel fully off; a width of a
// whole period or more turns it fully on.
//
// Returns ErrPulse for a negative width.
func (d *PCA9685) SetPulseWidth(ch int, width time.Duration) error {

	if err := validChannel(ch); nil != err {
		return err
	}
	if width < 0 {
		return fmt.Errorf("%w: %s", ErrPulse, width)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.readReg(PRE_SCALE)
	if nil != err {
		return err
	}

	hz := float64(d.osc) / float64(physic.Hertz)
	ticks := math.Floor(width.Seconds()*hz/float64(int(p)+1) + 0.5)
	if ticks > MaxTick {
		ticks = MaxTick
	}

	on, off := DutyTicks(uint16(ticks), false)
	d.logf("%s: channel %d pulse %s = %d ticks (prescale 0x%02X)", d, ch, width, int(ticks), p)
	return d.writeRegs(channelReg(ch), encodeTicks(on, off)...)
}
