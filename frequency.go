package pca9685

import (
	"fmt"
	"math"

	"periph.io/x/conn/v3/physic"
)

// PrescaleFromFreq returns the prescale that brings the PWM frequency closest
// to freq when the chip is clocked at osc:
//
//	prescale = round(osc / (4096 * freq)) - 1
//
// rounding half up, then clamped to [PrescaleMin, PrescaleMax]. A non-positive
// freq yields PrescaleMax. At 25 MHz, 200 Hz gives 30 (the power-on 0x1E) and
// 400 Hz gives 14.
func PrescaleFromFreq(osc, freq physic.Frequency) uint8 {
	if freq <= 0 {
		return PrescaleMax
	}
	p := math.Floor(float64(osc)/(TicksPerPeriod*float64(freq))+0.5) - 1
	switch {
	case p < float64(PrescaleMin):
		return PrescaleMin
	case p > float64(PrescaleMax):
		return PrescaleMax
	}
	return uint8(p)
}

// FreqFromPrescale returns the PWM frequency produced by prescale when the
// chip is clocked at osc.
func FreqFromPrescale(osc physic.Frequency, prescale uint8) physic.Frequency {
	return osc / physic.Frequency(TicksPerPeriod*(int64(prescale)+1))
}

// MaxFrequency is the largest frequency SetFrequency accepts at oscillator
// osc, ceil(osc / 8192): 3052 Hz for the internal oscillator. Requests above
// the frequency reachable with PrescaleMin are clamped to it.
func MaxFrequency(osc physic.Frequency) physic.Frequency {
	hz := math.Ceil(float64(osc) / (2 * TicksPerPeriod) / float64(physic.Hertz))
	return physic.Frequency(hz) * physic.Hertz
}

// SetFrequency programs the prescaler for the PWM frequency closest to freq at
// the tracked oscillator frequency.
//
// The chip is put to sleep, PRESCALE is written, and MODE1 is restored awake
// with auto-increment enabled, waiting OscillatorSettle before restarting the
// outputs. Channel values are preserved.
//
// Returns ErrFrequency if freq is outside [MinFrequency, MaxFrequency(osc)];
// the computed prescale is clamped, never rejected. Returns a *BusError if any
// register access failed, in which case the chip may be left asleep and Start
// must be called before further use.
func (d *PCA9685) SetFrequency(freq physic.Frequency) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if hi := MaxFrequency(d.osc); freq < MinFrequency || freq > hi {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrFrequency, freq, MinFrequency, hi)
	}

	return d.writePrescale(PrescaleFromFreq(d.osc, freq))
}

// SetPrescale programs a raw prescale value using the same sleep sequence as
// SetFrequency.
//
// Returns ErrPrescale if prescale is below PrescaleMin, or a *BusError if any
// register access failed.
func (d *PCA9685) SetPrescale(prescale uint8) error {

	if prescale < PrescaleMin {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrPrescale, prescale, PrescaleMin, PrescaleMax)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writePrescale(prescale)
}

// writePrescale performs the sleep, PRE_SCALE, wake, restart sequence.
func (d *PCA9685) writePrescale(prescale uint8) error {

	mode, err := d.enterSleep()
	if nil != err {
		return err
	}

	if nil != d.Logger {
		old, err := d.readReg(PRE_SCALE)
		if nil != err {
			return err
		}
		d.logf("%s: prescale 0x%02X -> 0x%02X", d, old, prescale)
	}

	if err := d.writeReg(PRE_SCALE, prescale); nil != err {
		return err
	}

	wake := (mode &^ (MODE1_SLEEP | MODE1_RESTART)) | MODE1_AI
	if err := d.writeReg(MODE1, wake); nil != err {
		return err
	}

	d.sleep(OscillatorSettle)

	return d.writeReg(MODE1, wake|MODE1_RESTART)
}

// Prescale reads the PRE_SCALE register.
func (d *PCA9685) Prescale() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readReg(PRE_SCALE)
}

// Frequency returns the PWM frequency derived from the PRE_SCALE register and
// the tracked oscillator frequency.
func (d *PCA9685) Frequency() (physic.Frequency, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.readReg(PRE_SCALE)
	if nil != err {
		return 0, err
	}
	return FreqFromPrescale(d.osc, p), nil
}
