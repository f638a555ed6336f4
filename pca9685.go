// Package pca9685 provides a register-level driver for the NXP PCA9685
// 16-channel, 12-bit PWM controller on an I²C bus.
//
// The driver owns the chip's MODE1/MODE2 sequencing: sleeping before every
// PRESCALE write, restoring auto-increment on wake, and honoring the
// oscillator settling delays documented by the datasheet. Bus transport is
// provided by the caller through the Bus interface; see the mcp2221a and
// i2cbus packages for ready-made implementations.
//
// Datasheet: https://www.nxp.com/docs/en/data-sheet/PCA9685.pdf
//
// A PCA9685 is not safe for concurrent use by multiple owners of the same
// physical chip. All methods of a single *PCA9685 are serialized internally.
package pca9685

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Register addresses.
const (
	MODE1      uint8 = 0x00 // Mode register 1
	MODE2      uint8 = 0x01 // Mode register 2
	SUBADR1    uint8 = 0x02 // I²C-bus subaddress 1
	SUBADR2    uint8 = 0x03 // I²C-bus subaddress 2
	SUBADR3    uint8 = 0x04 // I²C-bus subaddress 3
	ALLCALLADR uint8 = 0x05 // LED All Call I²C-bus address

	LED0_ON_L  uint8 = 0x06 // channel 0 output on, low byte
	LED0_ON_H  uint8 = 0x07 // channel 0 output on, high byte
	LED0_OFF_L uint8 = 0x08 // channel 0 output off, low byte
	LED0_OFF_H uint8 = 0x09 // channel 0 output off, high byte

	ALL_LED_ON_L  uint8 = 0xFA // all channels on, low byte
	ALL_LED_ON_H  uint8 = 0xFB // all channels on, high byte
	ALL_LED_OFF_L uint8 = 0xFC // all channels off, low byte
	ALL_LED_OFF_H uint8 = 0xFD // all channels off, high byte

	PRE_SCALE uint8 = 0xFE // PWM frequency prescaler, writable only in sleep
	TESTMODE  uint8 = 0xFF // never written by this package
)

// MODE1 bits.
const (
	MODE1_ALLCALL uint8 = 0x01 // respond to LED All Call address
	MODE1_SUB3    uint8 = 0x02 // respond to subaddress 3
	MODE1_SUB2    uint8 = 0x04 // respond to subaddress 2
	MODE1_SUB1    uint8 = 0x08 // respond to subaddress 1
	MODE1_SLEEP   uint8 = 0x10 // low power mode, oscillator off
	MODE1_AI      uint8 = 0x20 // register auto-increment
	MODE1_EXTCLK  uint8 = 0x40 // use EXTCLK pin; latched until power cycle or SWRST
	MODE1_RESTART uint8 = 0x80 // restart PWM channels after sleep
)

// MODE2 bits.
const (
	MODE2_OUTNE_0 uint8 = 0x01 // output state while /OE = 1
	MODE2_OUTNE_1 uint8 = 0x02 // high impedance while /OE = 1
	MODE2_OUTDRV  uint8 = 0x04 // 1: totem pole, 0: open drain
	MODE2_OCH     uint8 = 0x08 // outputs change on ACK instead of STOP
	MODE2_INVRT   uint8 = 0x10 // invert output logic
)

// Chip constants.
const (
	DefaultAddress uint16 = 0x40 // address with A0-A5 tied low
	AllCallAddress uint16 = 0x70 // power-on LED All Call address
	MaxAddress     uint16 = 0x7F // largest 7-bit address

	ChannelCount   = 16   // number of PWM outputs
	TicksPerPeriod = 4096 // counter positions per PWM period
	MaxTick        = 4095 // largest counter position

	// LEDFull is the tick value that sets the full on (in the ON slot) or full
	// off (in the OFF slot) bit of a channel. Full off takes precedence.
	LEDFull uint16 = 0x1000

	PrescaleMin     uint8 = 0x03 // smallest prescale accepted by the chip
	PrescaleMax     uint8 = 0xFF // largest prescale
	PrescaleDefault uint8 = 0x1E // power-on prescale, 200 Hz at 25 MHz
)

// Clock constants.
const (
	InternalOscillator = 25 * physic.MegaHertz // datasheet internal oscillator
	MaxExternalClock   = 50 * physic.MegaHertz // EXTCLK pin upper bound
	MinFrequency       = 1 * physic.Hertz      // smallest PWM frequency accepted
)

// Settling delays. None of them are ever skipped.
const (
	// OscillatorSettle is the time the internal oscillator needs to stabilize
	// after SLEEP is cleared.
	OscillatorSettle = 500 * time.Microsecond
	// SleepSettle is waited after entering sleep mode.
	SleepSettle = 5 * time.Millisecond
	// ResetSettle is waited after a restart or software reset.
	ResetSettle = 10 * time.Millisecond
)

// swrstData is the datasheet SWRST byte sent to the general call address.
const swrstData byte = 0x06

// generalCallAddress is the I²C general call address used by SWRST.
const generalCallAddress uint16 = 0x00

// Errors returned for caller contract violations. They are always reported
// before any bus access occurs.
var (
	ErrAddress    = errors.New("pca9685: invalid I²C address")
	ErrChannel    = errors.New("pca9685: invalid channel")
	ErrTick       = errors.New("pca9685: invalid tick value")
	ErrFrequency  = errors.New("pca9685: frequency out of range")
	ErrPrescale   = errors.New("pca9685: prescale out of range")
	ErrClock      = errors.New("pca9685: oscillator frequency out of range")
	ErrPulse      = errors.New("pca9685: invalid pulse width")
	ErrOutputMode = errors.New("pca9685: invalid output mode")
)

// BusError is returned when the transport rejects a register access. The
// driver never retries; Err holds the transport's cause.
type BusError struct {
	Op  string // "read", "write", "address" or "reset"
	Reg uint8  // register involved, if any
	Err error
}

func (e *BusError) Error() string {
	switch e.Op {
	case "address":
		return fmt.Sprintf("pca9685: set target address: %v", e.Err)
	case "reset":
		return fmt.Sprintf("pca9685: software reset: %v", e.Err)
	}
	return fmt.Sprintf("pca9685: %s %s: %v", e.Op, regName(e.Reg), e.Err)
}

// Unwrap returns the transport error.
func (e *BusError) Unwrap() error { return e.Err }

// regName returns the datasheet name of register reg.
func regName(reg uint8) string {
	switch {
	case MODE1 == reg:
		return "MODE1"
	case MODE2 == reg:
		return "MODE2"
	case PRE_SCALE == reg:
		return "PRE_SCALE"
	case reg >= ALL_LED_ON_L && reg <= ALL_LED_OFF_H:
		return fmt.Sprintf("ALL_LED[0x%02X]", reg)
	case reg >= LED0_ON_L && reg < LED0_ON_L+4*ChannelCount:
		return fmt.Sprintf("LED%d[0x%02X]", (reg-LED0_ON_L)/4, reg)
	}
	return fmt.Sprintf("0x%02X", reg)
}

// Bus is the transport used to reach the chip. Implementations address every
// transfer to the most recent SetTargetAddress.
//
// Write transmits a register address followed by data bytes to consecutive
// registers (multi-byte writes rely on MODE1_AI). WriteRead transmits w and
// then reads len(r) bytes into r.
type Bus interface {
	SetTargetAddress(addr uint16) error
	Write(b []byte) error
	WriteRead(w, r []byte) error
}

// Logger receives the driver's debug trace. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...interface{})
}

// PCA9685 is a handle to one chip at one bus address.
type PCA9685 struct {
	// Logger, if non-nil, receives a trace of mode and prescale changes.
	Logger Logger

	addr uint16
	bus  Bus
	osc  physic.Frequency

	mu    sync.Mutex
	sleep func(time.Duration)
}

// New binds a driver to the chip at addr, configuring bus to target it. The
// tracked oscillator frequency starts at InternalOscillator.
//
// Returns ErrAddress if addr is not a 7-bit address, or a *BusError if the
// transport rejects the address.
func New(addr uint16, bus Bus) (*PCA9685, error) {

	if nil == bus {
		return nil, errors.New("pca9685: nil bus")
	}

	if addr > MaxAddress {
		return nil, fmt.Errorf("%w: 0x%02X", ErrAddress, addr)
	}

	if err := bus.SetTargetAddress(addr); nil != err {
		return nil, &BusError{Op: "address", Err: err}
	}

	return &PCA9685{
		addr:  addr,
		bus:   bus,
		osc:   InternalOscillator,
		sleep: time.Sleep,
	}, nil
}

// Address returns the chip's 7-bit bus address.
func (d *PCA9685) Address() uint16 { return d.addr }

func (d *PCA9685) String() string {
	return fmt.Sprintf("PCA9685@0x%02X", d.addr)
}

// OscillatorFrequency returns the tracked frequency of the clock currently
// driving the chip. The chip cannot report this itself.
func (d *PCA9685) OscillatorFrequency() physic.Frequency {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.osc
}

// SetOscillatorFrequency updates the tracked clock frequency without touching
// the chip. Call it whenever the source feeding EXTCLK changes rate, or to
// account for a measured internal oscillator drift.
//
// Returns ErrClock if f is not in (0, MaxExternalClock].
func (d *PCA9685) SetOscillatorFrequency(f physic.Frequency) error {

	if f <= 0 || f > MaxExternalClock {
		return fmt.Errorf("%w: %s", ErrClock, f)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.osc = f
	return nil
}

// -----------------------------------------------------------------------------
// -- REGISTERS ----------------------------------------------------- [start] --

func (d *PCA9685) logf(format string, v ...interface{}) {
	if nil != d.Logger {
		d.Logger.Printf(format, v...)
	}
}

// readReg reads the single byte register reg.
func (d *PCA9685) readReg(reg uint8) (uint8, error) {
	buf := []byte{0}
	if err := d.bus.WriteRead([]byte{reg}, buf); nil != err {
		return 0, &BusError{Op: "read", Reg: reg, Err: err}
	}
	return buf[0], nil
}

// writeReg writes val to the single byte register reg.
func (d *PCA9685) writeReg(reg uint8, val uint8) error {
	if err := d.bus.Write([]byte{reg, val}); nil != err {
		return &BusError{Op: "write", Reg: reg, Err: err}
	}
	return nil
}

// readRegs reads len(buf) consecutive registers starting at reg. Requires
// MODE1_AI.
func (d *PCA9685) readRegs(reg uint8, buf []byte) error {
	if err := d.bus.WriteRead([]byte{reg}, buf); nil != err {
		return &BusError{Op: "read", Reg: reg, Err: err}
	}
	return nil
}

// writeRegs writes data to consecutive registers starting at reg. Requires
// MODE1_AI.
func (d *PCA9685) writeRegs(reg uint8, data ...byte) error {
	out := make([]byte, 1+len(data))
	out[0] = reg
	copy(out[1:], data)
	if err := d.bus.Write(out); nil != err {
		return &BusError{Op: "write", Reg: reg, Err: err}
	}
	return nil
}

// -- REGISTERS ------------------------------------------------------- [end] --
// -----------------------------------------------------------------------------
