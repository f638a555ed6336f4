package pca9685

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// op is one transport access or settling delay observed by fakeChip.
type op struct {
	kind  byte // 'w' write, 'r' read, 'a' address, 'd' delay
	reg   uint8
	data  []byte
	delay time.Duration
}

func (o op) String() string {
	switch o.kind {
	case 'w':
		return fmt.Sprintf("write %s % X", regName(o.reg), o.data)
	case 'r':
		return fmt.Sprintf("read %s [%d]", regName(o.reg), len(o.data))
	case 'a':
		return fmt.Sprintf("address 0x%02X", o.reg)
	}
	return fmt.Sprintf("delay %s", o.delay)
}

// fakeChip models the PCA9685 register file behind the Bus interface. It
// fails the test on any PRE_SCALE write while MODE1_SLEEP is clear, on
// multi-byte transfers without MODE1_AI and on any TESTMODE access.
type fakeChip struct {
	t *testing.T

	target uint16
	regs   [256]byte
	ops    []op

	addrErr  error
	writeErr error
	readErr  error
}

func newFakeChip(t *testing.T) *fakeChip {
	c := &fakeChip{t: t}
	c.powerOn()
	return c
}

// powerOn loads the datasheet power-on register values.
func (c *fakeChip) powerOn() {
	c.regs = [256]byte{}
	c.regs[MODE1] = MODE1_SLEEP | MODE1_ALLCALL
	c.regs[MODE2] = MODE2_OUTDRV
	c.regs[SUBADR1] = 0xE2
	c.regs[SUBADR2] = 0xE4
	c.regs[SUBADR3] = 0xE8
	c.regs[ALLCALLADR] = 0xE0
	for ch := 0; ch < ChannelCount; ch++ {
		c.regs[channelReg(ch)+3] = 0x10
	}
	c.regs[ALL_LED_OFF_H] = 0x10
	c.regs[PRE_SCALE] = PrescaleDefault
}

func (c *fakeChip) SetTargetAddress(addr uint16) error {
	if nil != c.addrErr {
		return c.addrErr
	}
	c.target = addr
	c.ops = append(c.ops, op{kind: 'a', reg: uint8(addr)})
	return nil
}

func (c *fakeChip) Write(b []byte) error {
	if nil != c.writeErr {
		return c.writeErr
	}
	require.NotEmpty(c.t, b, "empty write")

	if 0 == c.target {
		require.Equal(c.t, []byte{swrstData}, b, "unexpected general call")
		c.ops = append(c.ops, op{kind: 'w', reg: b[0]})
		c.powerOn()
		return nil
	}

	reg, data := b[0], append([]byte(nil), b[1:]...)
	c.ops = append(c.ops, op{kind: 'w', reg: reg, data: data})
	if len(data) > 1 && 0 == c.regs[MODE1]&MODE1_AI {
		c.t.Errorf("%d byte write at %s without auto-increment", len(data), regName(reg))
	}
	for i, v := range data {
		c.store(reg+uint8(i), v)
	}
	return nil
}

func (c *fakeChip) store(reg uint8, v byte) {
	switch reg {
	case TESTMODE:
		c.t.Errorf("TESTMODE written")
	case PRE_SCALE:
		if 0 == c.regs[MODE1]&MODE1_SLEEP {
			c.t.Errorf("PRE_SCALE written while awake (MODE1 = %#08b)", c.regs[MODE1])
			return
		}
		if v < PrescaleMin {
			v = PrescaleMin
		}
		c.regs[reg] = v
	case MODE1:
		old := c.regs[MODE1]
		next := v&^MODE1_RESTART | old&MODE1_EXTCLK
		switch {
		case 0 == old&MODE1_SLEEP && 0 != next&MODE1_SLEEP:
			// outputs were running; the chip flags them for restart
			next |= MODE1_RESTART
		case 0 != old&MODE1_RESTART && 0 == v&MODE1_RESTART:
			next |= MODE1_RESTART
		}
		c.regs[MODE1] = next
	default:
		c.regs[reg] = v
	}
}

func (c *fakeChip) WriteRead(w, r []byte) error {
	if nil != c.readErr {
		return c.readErr
	}
	require.Len(c.t, w, 1, "register pointer")
	reg := w[0]
	if TESTMODE == reg {
		c.t.Errorf("TESTMODE read")
	}
	if len(r) > 1 && 0 == c.regs[MODE1]&MODE1_AI {
		c.t.Errorf("%d byte read at %s without auto-increment", len(r), regName(reg))
	}
	for i := range r {
		r[i] = c.regs[reg+uint8(i)]
	}
	c.ops = append(c.ops, op{kind: 'r', reg: reg, data: append([]byte(nil), r...)})
	return nil
}

func (c *fakeChip) delay(d time.Duration) {
	c.ops = append(c.ops, op{kind: 'd', delay: d})
}

// writes returns the recorded writes to reg.
func (c *fakeChip) writes(reg uint8) [][]byte {
	var out [][]byte
	for _, o := range c.ops {
		if 'w' == o.kind && reg == o.reg {
			out = append(out, o.data)
		}
	}
	return out
}

// count returns the number of recorded ops of the given kind.
func (c *fakeChip) count(kind byte) int {
	n := 0
	for _, o := range c.ops {
		if kind == o.kind {
			n++
		}
	}
	return n
}

func (c *fakeChip) reset() { c.ops = nil }

// newTestDevice returns a driver bound to a fresh fakeChip whose delays are
// recorded instead of slept.
func newTestDevice(t *testing.T) (*PCA9685, *fakeChip) {
	c := newFakeChip(t)
	d, err := New(DefaultAddress, c)
	require.NoError(t, err)
	d.sleep = c.delay
	c.reset()
	return d, c
}
