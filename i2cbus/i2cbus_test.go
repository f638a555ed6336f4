package i2cbus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"

	"github.com/ardnew/pca9685"
)

var (
	_ pca9685.Bus = (*Conn)(nil)
	_ Txer        = drivers.I2C(nil)
)

// machineBus stands in for a TinyGo machine.I2C.
type machineBus struct {
	addrs []uint16
	w     [][]byte
	r     []byte
	err   error
}

func (m *machineBus) ReadRegister(addr uint8, reg uint8, buf []byte) error {
	return m.Tx(uint16(addr), []byte{reg}, buf)
}

func (m *machineBus) WriteRegister(addr uint8, reg uint8, buf []byte) error {
	return m.Tx(uint16(addr), append([]byte{reg}, buf...), nil)
}

func (m *machineBus) Tx(addr uint16, w, r []byte) error {
	if nil != m.err {
		return m.err
	}
	m.addrs = append(m.addrs, addr)
	m.w = append(m.w, append([]byte(nil), w...))
	copy(r, m.r)
	return nil
}

func TestPeriphWriteRead(t *testing.T) {

	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x41, W: []byte{0x06, 0x00, 0x00, 0x00, 0x08}},
			{Addr: 0x41, W: []byte{0x06}, R: []byte{0x00, 0x00, 0x00, 0x08}},
		},
	}
	defer bus.Close()

	c := NewPeriph(bus)
	require.NoError(t, c.SetTargetAddress(0x41))
	require.NoError(t, c.Write([]byte{0x06, 0x00, 0x00, 0x00, 0x08}))

	r := make([]byte, 4)
	require.NoError(t, c.WriteRead([]byte{0x06}, r))
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x08}, r)

	assert.NoError(t, c.Close(), "borrowed bus must not be closed")
}

func TestSetTargetAddress(t *testing.T) {

	m := &machineBus{}
	c := NewTinyGo(m)

	require.NoError(t, c.SetTargetAddress(0x00))
	assert.Error(t, c.SetTargetAddress(0x80))
	require.NoError(t, c.Write([]byte{0x06}))
	assert.Equal(t, []uint16{0x00}, m.addrs)
}

func TestTinyGo(t *testing.T) {

	m := &machineBus{r: []byte{0x1E}}
	c := NewTinyGo(m)
	require.NoError(t, c.SetTargetAddress(0x40))

	r := make([]byte, 1)
	require.NoError(t, c.WriteRead([]byte{pca9685.PRE_SCALE}, r))
	assert.Equal(t, []byte{0x1E}, r)
	assert.Equal(t, [][]byte{{pca9685.PRE_SCALE}}, m.w)
	assert.Equal(t, "tinygo", c.String())
}

func TestTxError(t *testing.T) {

	cause := errors.New("bus stuck")
	c := New(&machineBus{err: cause})
	require.NoError(t, c.SetTargetAddress(0x40))

	err := c.Write([]byte{0x00, 0x01})
	assert.True(t, errors.Is(err, cause), "%v", err)
	err = c.WriteRead([]byte{0x00}, make([]byte, 1))
	assert.True(t, errors.Is(err, cause), "%v", err)
}

func TestPCA9685OverPeriph(t *testing.T) {

	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			// Start: wake from the power-on sleep with auto-increment
			{Addr: 0x40, W: []byte{0x00}, R: []byte{0x11}},
			{Addr: 0x40, W: []byte{0x00, 0x21}},
			// SetFrequency(50 Hz)
			{Addr: 0x40, W: []byte{0x00}, R: []byte{0x21}},
			{Addr: 0x40, W: []byte{0x00, 0x31}},
			{Addr: 0x40, W: []byte{0xFE}, R: []byte{0x1E}},
			{Addr: 0x40, W: []byte{0xFE, 0x79}},
			{Addr: 0x40, W: []byte{0x00, 0x21}},
			{Addr: 0x40, W: []byte{0x00, 0xA1}},
			// SetChannel(15, 0, 307)
			{Addr: 0x40, W: []byte{0x42, 0x00, 0x00, 0x33, 0x01}},
		},
	}

	c := NewPeriph(bus)
	d, err := pca9685.New(pca9685.DefaultAddress, c)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, d.Start())
	require.NoError(t, d.SetFrequency(50*physic.Hertz))
	require.NoError(t, d.SetChannel(15, 0, 307))
	assert.True(t, time.Since(start) >= pca9685.SleepSettle+2*pca9685.OscillatorSettle)

	require.NoError(t, bus.Close(), "not all transfers were issued")
}
