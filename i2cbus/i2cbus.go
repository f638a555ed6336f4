// Package i2cbus adapts two-wire controllers that address every transfer
// explicitly to the target-address model of pca9685.Bus. Both periph.io buses
// (Linux /dev/i2c-N, FT232H, ...) and TinyGo machine buses are supported,
// since each exposes the same Tx(addr, w, r) transaction.
package i2cbus

import (
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

// Txer performs one combined write-then-read transaction with the device at
// addr. Either w or r may be empty to skip that half.
type Txer interface {
	Tx(addr uint16, w, r []byte) error
}

// Conn is a pca9685.Bus over a Txer. It is safe for concurrent use.
type Conn struct {
	mu     sync.Mutex
	tx     Txer
	name   string
	addr   uint16
	closer io.Closer
}

// New returns a Conn issuing its transfers on tx.
func New(tx Txer) *Conn {
	name := "i2c"
	if s, ok := tx.(fmt.Stringer); ok {
		name = s.String()
	}
	return &Conn{tx: tx, name: name}
}

// NewPeriph returns a Conn on an already opened periph.io I²C bus.
func NewPeriph(b i2c.Bus) *Conn {
	return &Conn{tx: b, name: b.String()}
}

// NewTinyGo returns a Conn on a configured TinyGo I²C bus, e.g. machine.I2C0.
func NewTinyGo(b drivers.I2C) *Conn {
	return &Conn{tx: b, name: "tinygo"}
}

// Open initializes the periph.io host drivers and opens the named I²C bus
// ("" selects the first one found, "1" or "/dev/i2c-1" a specific one). If
// speed is positive the bus clock is changed; a PCA9685 accepts up to 1 MHz.
//
// The returned Conn owns the bus and must be closed.
func Open(name string, speed physic.Frequency) (*Conn, error) {

	if _, err := host.Init(); nil != err {
		return nil, fmt.Errorf("host.Init(): %v", err)
	}

	b, err := i2creg.Open(name)
	if nil != err {
		return nil, fmt.Errorf("i2creg.Open(%q): %v", name, err)
	}

	if speed > 0 {
		if err := b.SetSpeed(speed); nil != err {
			b.Close()
			return nil, fmt.Errorf("SetSpeed(%s): %v", speed, err)
		}
	}

	c := NewPeriph(b)
	c.closer = b
	return c, nil
}

// SetTargetAddress selects the 7-bit address used by Write and WriteRead.
func (c *Conn) SetTargetAddress(addr uint16) error {

	if addr > 0x7F {
		return fmt.Errorf("invalid 7-bit address: 0x%X", addr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.addr = addr
	return nil
}

// Write transmits b to the target in one transfer.
func (c *Conn) Write(b []byte) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tx.Tx(c.addr, b, nil); nil != err {
		return fmt.Errorf("Tx(0x%02X): %w", c.addr, err)
	}
	return nil
}

// WriteRead transmits w and then reads len(r) bytes from the target after a
// repeated START.
func (c *Conn) WriteRead(w, r []byte) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tx.Tx(c.addr, w, r); nil != err {
		return fmt.Errorf("Tx(0x%02X): %w", c.addr, err)
	}
	return nil
}

// Close releases a bus opened by Open. Buses passed to New, NewPeriph, or
// NewTinyGo are left to their owner.
func (c *Conn) Close() error {

	c.mu.Lock()
	defer c.mu.Unlock()

	if nil == c.closer {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}

func (c *Conn) String() string {
	return c.name
}
