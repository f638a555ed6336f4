// Package config describes the setup of one PCA9685 in YAML and applies it to
// a device: clock source, PWM frequency, output drive, and initial channel
// values.
//
//	address: 0x40
//	oscillator: 25000000   # Hz; the external clock rate when external is true
//	external: false
//	frequency: 50          # Hz; or "prescale: 121"
//	output: totem-pole     # or open-drain
//	channels:
//	  - {channel: 0, pulse: 1500us}
//	  - {channel: 1, duty: 2048, invert: true}
//	  - {channel: 2, on: 0, off: 1024}
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/pca9685"
)

// ErrInvalid is wrapped by every error returned from Validate.
var ErrInvalid = errors.New("config: invalid")

// Config is the YAML document describing one chip.
type Config struct {
	// Address defaults to pca9685.DefaultAddress when zero.
	Address    uint16    `yaml:"address"`
	Oscillator float64   `yaml:"oscillator"`
	External   bool      `yaml:"external"`
	Frequency  float64   `yaml:"frequency"`
	Prescale   uint8     `yaml:"prescale"`
	Output     string    `yaml:"output"`
	Channels   []Channel `yaml:"channels"`
}

// Channel sets the initial output of one channel. Exactly one of Pulse, Duty,
// or the On/Off pair is given.
type Channel struct {
	Channel int            `yaml:"channel"`
	Pulse   *time.Duration `yaml:"pulse"`
	Duty    *uint16        `yaml:"duty"`
	Invert  bool           `yaml:"invert"`
	On      *uint16        `yaml:"on"`
	Off     *uint16        `yaml:"off"`
}

// Load decodes and validates a Config. Unknown keys are rejected.
func Load(r io.Reader) (*Config, error) {

	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)

	var c Config
	if err := dec.Decode(&c); nil != err {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("yaml: %v", err)
	}

	if err := c.Validate(); nil != err {
		return nil, err
	}
	return &c, nil
}

// LoadFile is Load on the contents of the named file.
func LoadFile(path string) (*Config, error) {

	f, err := os.Open(path)
	if nil != err {
		return nil, err
	}
	defer f.Close()

	c, err := Load(f)
	if nil != err {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func invalid(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, v...))
}

// Validate checks every value against the chip's limits without touching a
// device.
func (c *Config) Validate() error {

	if c.Address > pca9685.MaxAddress {
		return invalid("address 0x%02X", c.Address)
	}

	if c.Oscillator < 0 || hertz(c.Oscillator) > pca9685.MaxExternalClock {
		return invalid("oscillator %g Hz", c.Oscillator)
	}
	if c.External {
		osc := hertz(c.Oscillator)
		if osc <= 0 || osc > pca9685.MaxExternalClock {
			return invalid("external clock %s not in (0, %s]", osc, pca9685.MaxExternalClock)
		}
	}

	if c.Frequency < 0 {
		return invalid("frequency %g Hz", c.Frequency)
	}
	if c.Frequency > 0 && 0 != c.Prescale {
		return invalid("frequency and prescale are exclusive")
	}
	if 0 != c.Prescale && c.Prescale < pca9685.PrescaleMin {
		return invalid("prescale %d below %d", c.Prescale, pca9685.PrescaleMin)
	}
	if c.Frequency > 0 {
		f := hertz(c.Frequency)
		if hi := pca9685.MaxFrequency(c.oscillator()); f < pca9685.MinFrequency || f > hi {
			return invalid("frequency %s not in [%s, %s]", f, pca9685.MinFrequency, hi)
		}
	}

	if _, err := c.outputMode(); nil != err {
		return err
	}

	for i, ch := range c.Channels {
		if err := ch.validate(); nil != err {
			return fmt.Errorf("channels[%d]: %w", i, err)
		}
	}

	return nil
}

func (ch *Channel) validate() error {

	if ch.Channel < 0 || ch.Channel >= pca9685.ChannelCount {
		return invalid("channel %d", ch.Channel)
	}

	set := 0
	if nil != ch.Pulse {
		set++
		if *ch.Pulse < 0 {
			return invalid("pulse %s", *ch.Pulse)
		}
	}
	if nil != ch.Duty {
		set++
		if *ch.Duty > pca9685.MaxTick {
			return invalid("duty %d above %d", *ch.Duty, pca9685.MaxTick)
		}
	}
	if nil != ch.On || nil != ch.Off {
		set++
		if nil == ch.On || nil == ch.Off {
			return invalid("on and off go together")
		}
		if *ch.On > pca9685.LEDFull || *ch.Off > pca9685.LEDFull {
			return invalid("ticks (%d, %d) above %d", *ch.On, *ch.Off, pca9685.LEDFull)
		}
	}
	if 1 != set {
		return invalid("channel %d needs one of pulse, duty, or on/off", ch.Channel)
	}
	if ch.Invert && nil == ch.Duty {
		return invalid("invert applies to duty only")
	}

	return nil
}

func hertz(hz float64) physic.Frequency {
	return physic.Frequency(hz * float64(physic.Hertz))
}

func (c *Config) address() uint16 {
	if 0 == c.Address {
		return pca9685.DefaultAddress
	}
	return c.Address
}

func (c *Config) oscillator() physic.Frequency {
	if 0 == c.Oscillator {
		return pca9685.InternalOscillator
	}
	return hertz(c.Oscillator)
}

func (c *Config) outputMode() (pca9685.OutputMode, error) {
	switch c.Output {
	case "", pca9685.TotemPole.String():
		return pca9685.TotemPole, nil
	case pca9685.OpenDrain.String():
		return pca9685.OpenDrain, nil
	}
	return 0, invalid("output %q", c.Output)
}

// Open creates the device at the configured address on bus and applies c.
func (c *Config) Open(bus pca9685.Bus) (*pca9685.PCA9685, error) {

	d, err := pca9685.New(c.address(), bus)
	if nil != err {
		return nil, err
	}
	if err := c.Apply(d); nil != err {
		return nil, err
	}
	return d, nil
}

// Apply wakes d and programs it in order: clock source, frequency, output
// drive, then each channel. The first failure is returned; registers already
// written are not rolled back.
func (c *Config) Apply(d *pca9685.PCA9685) error {

	if err := c.Validate(); nil != err {
		return err
	}

	if err := d.Start(); nil != err {
		return fmt.Errorf("Start(): %w", err)
	}

	switch {
	case c.External:
		if err := d.SetExternalClock(c.oscillator()); nil != err {
			return fmt.Errorf("SetExternalClock(): %w", err)
		}
	case 0 != c.Oscillator:
		// calibrated internal oscillator
		if err := d.SetOscillatorFrequency(c.oscillator()); nil != err {
			return fmt.Errorf("SetOscillatorFrequency(): %w", err)
		}
	}

	switch {
	case c.Frequency > 0:
		if err := d.SetFrequency(hertz(c.Frequency)); nil != err {
			return fmt.Errorf("SetFrequency(): %w", err)
		}
	case 0 != c.Prescale:
		if err := d.SetPrescale(c.Prescale); nil != err {
			return fmt.Errorf("SetPrescale(): %w", err)
		}
	}

	mode, _ := c.outputMode()
	if err := d.SetOutputMode(mode); nil != err {
		return fmt.Errorf("SetOutputMode(): %w", err)
	}

	for _, ch := range c.Channels {
		var err error
		switch {
		case nil != ch.Pulse:
			err = d.SetPulseWidth(ch.Channel, *ch.Pulse)
		case nil != ch.Duty:
			err = d.SetChannelDuty(ch.Channel, *ch.Duty, ch.Invert)
		default:
			err = d.SetChannel(ch.Channel, *ch.On, *ch.Off)
		}
		if nil != err {
			return fmt.Errorf("channel %d: %w", ch.Channel, err)
		}
	}

	return nil
}
