package pca9685

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// -----------------------------------------------------------------------------
// -- POWER STATE --------------------------------------------------- [start] --

// Start wakes the chip: clears MODE1_SLEEP, enables register auto-increment
// and waits OscillatorSettle for the oscillator to stabilize. If the chip
// reports MODE1_RESTART, the channels active before sleep are restarted after
// the delay.
//
// Returns a *BusError if MODE1 could not be read or written.
func (d *PCA9685) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.start()
}

func (d *PCA9685) start() error {

	mode, err := d.readReg(MODE1)
	if nil != err {
		return err
	}
	d.logf("%s: start, MODE1 = %#08b", d, mode)

	// writing 0 to RESTART has no effect, so it is left out of the wake write
	wake := (mode &^ (MODE1_SLEEP | MODE1_RESTART)) | MODE1_AI
	if err := d.writeReg(MODE1, wake); nil != err {
		return err
	}

	d.sleep(OscillatorSettle)

	if 0 != mode&MODE1_RESTART {
		if err := d.writeReg(MODE1, wake|MODE1_RESTART); nil != err {
			return err
		}
	}

	return nil
}

// Reset writes MODE1_RESTART (with auto-increment) to MODE1 and waits
// ResetSettle. MODE1 ends up awake with ALLCALL and the subaddress responses
// disabled. Reset does not clear MODE1_EXTCLK; see SoftwareReset.
//
// Returns a *BusError if MODE1 could not be written.
func (d *PCA9685) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logf("%s: reset", d)
	if err := d.writeReg(MODE1, MODE1_RESTART|MODE1_AI); nil != err {
		return err
	}
	d.sleep(ResetSettle)
	return nil
}

// SoftwareReset sends the datasheet SWRST sequence to the I²C general call
// address, returning every PCA9685 on the bus to its power-on state. This is
// the only way short of a power cycle to leave external clock mode. The
// tracked oscillator frequency returns to InternalOscillator.
//
// The bus is re-targeted at the chip's own address even if the reset fails.
//
// Returns a *BusError if the transport rejected either address change or the
// reset byte.
func (d *PCA9685) SoftwareReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logf("%s: software reset", d)

	if err := d.bus.SetTargetAddress(generalCallAddress); nil != err {
		return &BusError{Op: "address", Err: err}
	}

	werr := d.bus.Write([]byte{swrstData})

	if err := d.bus.SetTargetAddress(d.addr); nil != err {
		return &BusError{Op: "address", Err: err}
	}
	if nil != werr {
		return &BusError{Op: "reset", Err: werr}
	}

	d.osc = InternalOscillator
	d.sleep(ResetSettle)
	return nil
}

// Sleep puts the chip into low power mode, stopping the oscillator. Calling
// Sleep on a sleeping chip performs no write. Otherwise it waits SleepSettle
// before returning.
//
// Returns a *BusError if MODE1 could not be read or written.
func (d *PCA9685) Sleep() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.enterSleep()
	return err
}

// enterSleep sets MODE1_SLEEP if needed and returns the MODE1 value read
// before any change.
func (d *PCA9685) enterSleep() (uint8, error) {

	mode, err := d.readReg(MODE1)
	if nil != err {
		return 0, err
	}

	if 0 != mode&MODE1_SLEEP {
		d.logf("%s: already asleep, MODE1 = %#08b", d, mode)
		return mode, nil
	}

	d.logf("%s: sleep, MODE1 = %#08b", d, mode|MODE1_SLEEP)
	// RESTART is write-one-to-clear; never write it back while sleeping
	if err := d.writeReg(MODE1, (mode|MODE1_SLEEP)&^MODE1_RESTART); nil != err {
		return 0, err
	}
	d.sleep(SleepSettle)

	return mode, nil
}

// Wakeup clears MODE1_SLEEP and enables register auto-increment, which the
// channel accessors need. It does not wait for the oscillator; use Start when
// accurate PWM output is needed right away.
//
// Returns a *BusError if MODE1 could not be read or written.
func (d *PCA9685) Wakeup() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	mode, err := d.readReg(MODE1)
	if nil != err {
		return err
	}

	d.logf("%s: wakeup, MODE1 = %#08b", d, mode)
	return d.writeReg(MODE1, (mode&^(MODE1_SLEEP|MODE1_RESTART))|MODE1_AI)
}

// Asleep reports whether MODE1_SLEEP is set.
func (d *PCA9685) Asleep() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mode, err := d.readReg(MODE1)
	if nil != err {
		return false, err
	}
	return 0 != mode&MODE1_SLEEP, nil
}

// -- POWER STATE ----------------------------------------------------- [end] --
// -----------------------------------------------------------------------------

// -----------------------------------------------------------------------------
// -- CLOCK SOURCE -------------------------------------------------- [start] --

// SetExternalClock switches the chip to the clock on its EXTCLK pin, running
// at clock, and records clock as the tracked oscillator frequency. The chip is
// put to sleep first, then restarted.
//
// External clock mode is latched by the chip: it persists until a power cycle
// or SoftwareReset. Sleep, Reset and Start do not leave it.
//
// Returns ErrClock if clock is not in (0, MaxExternalClock], or a *BusError if
// any MODE1 access failed. On a bus error the chip may be left asleep; call
// Start before further use.
func (d *PCA9685) SetExternalClock(clock physic.Frequency) error {

	if clock <= 0 || clock > MaxExternalClock {
		return fmt.Errorf("%w: %s", ErrClock, clock)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.enterSleep(); nil != err {
		return err
	}

	mode, err := d.readReg(MODE1)
	if nil != err {
		return err
	}

	ext := (mode | MODE1_SLEEP | MODE1_EXTCLK) &^ MODE1_RESTART
	d.logf("%s: external clock %s, MODE1 = %#08b", d, clock, ext)
	if err := d.writeReg(MODE1, ext); nil != err {
		return err
	}

	if err := d.start(); nil != err {
		return err
	}

	d.osc = clock
	return nil
}

// ExternalClock reports whether MODE1_EXTCLK is set.
func (d *PCA9685) ExternalClock() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mode, err := d.readReg(MODE1)
	if nil != err {
		return false, err
	}
	return 0 != mode&MODE1_EXTCLK, nil
}

// -- CLOCK SOURCE ---------------------------------------------------- [end] --
// -----------------------------------------------------------------------------

// -----------------------------------------------------------------------------
// -- OUTPUT DRIVE -------------------------------------------------- [start] --

// OutputMode selects the electrical structure of the outputs.
type OutputMode uint8

// Output modes. TotemPole is the power-on default.
const (
	TotemPole OutputMode = iota
	OpenDrain
)

func (m OutputMode) String() string {
	switch m {
	case TotemPole:
		return "totem-pole"
	case OpenDrain:
		return "open-drain"
	}
	return fmt.Sprintf("OutputMode(%d)", uint8(m))
}

// SetOutputMode selects totem pole or open drain outputs. MODE2 is only
// written if the requested mode differs from the current one. LEDs with
// integrated zener diodes should only be driven open drain.
//
// Returns ErrOutputMode for an unknown mode, or a *BusError if MODE2 could not
// be read or written.
func (d *PCA9685) SetOutputMode(m OutputMode) error {

	if m != TotemPole && m != OpenDrain {
		return fmt.Errorf("%w: %d", ErrOutputMode, uint8(m))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	mode, err := d.readReg(MODE2)
	if nil != err {
		return err
	}

	want := mode | MODE2_OUTDRV
	if OpenDrain == m {
		want = mode &^ MODE2_OUTDRV
	}
	if want == mode {
		return nil
	}

	d.logf("%s: output mode %s, MODE2 = %#08b", d, m, want)
	return d.writeReg(MODE2, want)
}

// OutputMode reads the current output mode from MODE2.
func (d *PCA9685) OutputMode() (OutputMode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mode, err := d.readReg(MODE2)
	if nil != err {
		return TotemPole, err
	}
	if 0 == mode&MODE2_OUTDRV {
		return OpenDrain, nil
	}
	return TotemPole, nil
}

// -- OUTPUT DRIVE ---------------------------------------------------- [end] --
// -----------------------------------------------------------------------------
