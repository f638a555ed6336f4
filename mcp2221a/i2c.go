package mcp2221a

import (
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// -- I²C ----------------------------------------------------------- [start] --

// Constants associated with the I²C module.
const (
	I2CBaudRate = 100000 // default baud rate
	I2CFastRate = 400000 // fast-mode baud rate, the PCA9685 maximum over USB
	I2CMinAddr  = 0x08   // minimum possible (unreserved) 7-bit address
	I2CMaxAddr  = 0x77   // maximum possible (unreserved) 7-bit address
)

// Private constants associated with the I²C module.
const (
	i2cChunkMax = 60 // maximum number of bytes moved per command message

	// internal I²C engine states. these aren't all listed in the datasheet;
	// they match what the bridge reports in status byte 8 and response byte 2.
	i2cStateStartTimeout    byte = 0x12
	i2cStateRepStartTimeout byte = 0x17
	i2cStateStopTimeout     byte = 0x62

	i2cStateAddrTimeout byte = 0x23
	i2cStateAddrNACK    byte = 0x25

	i2cStatePartialData   byte = 0x41
	i2cStateWriteTimeout  byte = 0x44
	i2cStateWritingNoStop byte = 0x45
	i2cStateReadTimeout   byte = 0x52

	i2cStateReadError byte = 0x7F

	// the bridge is polled while a transfer drains; this bounds the wait and
	// is not a retry of a failed transfer.
	i2cPollMax  = 50
	i2cPollWait = 300 * time.Microsecond
)

// Errors reported by the bridge's I²C engine.
var (
	ErrNACK    = errors.New("mcp2221a: I²C NACK")
	ErrTimeout = errors.New("mcp2221a: I²C timeout")
)

// i2cStateNACK tests if the given internal I²C state machine status indicates
// an I²C NACK from a requested slave address.
func i2cStateNACK(state byte) bool {
	return (i2cStateAddrNACK == state)
}

// i2cStateTimeout tests if the given internal I²C state machine status
// indicates any type of I²C communication timeout.
func i2cStateTimeout(state byte) bool {
	return (i2cStateStartTimeout == state) ||
		(i2cStateRepStartTimeout == state) ||
		(i2cStateStopTimeout == state) ||
		(i2cStateReadTimeout == state) ||
		(i2cStateWriteTimeout == state) ||
		(i2cStateAddrTimeout == state)
}

// stateErr converts a fatal I²C engine state into an error, or returns nil.
func stateErr(state byte, addr uint8) error {
	switch {
	case i2cStateNACK(state):
		return fmt.Errorf("%w from address (0x%02X)", ErrNACK, addr)
	case i2cStateTimeout(state):
		return fmt.Errorf("%w (state 0x%02X, address 0x%02X)", ErrTimeout, state, addr)
	}
	return nil
}

// I2CSetConfig configures the I²C bus clock divider calculated from a given
// baud rate (BPS). If in doubt, use global constant I2CBaudRate.
//
// Returns an error if the receiver is invalid, the given baud rate is invalid,
// the set-parameters command could not be sent, or if an I²C transfer is
// currently in-progress.
func (mcp *MCP2221A) I2CSetConfig(baud uint32) error {

	if baud > ClkHz/3 || baud < ClkHz/258 {
		return fmt.Errorf("invalid baud rate: %d", baud)
	}

	if err := mcp.lock(); nil != err {
		return err
	}
	defer mcp.mu.Unlock()

	cmd := makeMsg()
	cmd[3] = 0x20
	cmd[4] = byte(ClkHz/baud - 3)

	rsp, err := mcp.send(cmdSetParams, cmd)
	if nil != err {
		return fmt.Errorf("send(): %v", err)
	}
	if 0x21 == newStatus(rsp).i2cSpdChg {
		return fmt.Errorf("transfer in progress")
	}

	return nil
}

// I2CCancel cancels any I²C transfer in progress.
func (mcp *MCP2221A) I2CCancel() error {

	if err := mcp.lock(); nil != err {
		return err
	}
	defer mcp.mu.Unlock()

	return mcp.i2cCancel()
}

func (mcp *MCP2221A) i2cCancel() error {

	cmd := makeMsg()
	cmd[2] = 0x10

	rsp, err := mcp.send(cmdSetParams, cmd)
	if nil != err {
		return fmt.Errorf("send(): %v", err)
	}
	if 0x10 == newStatus(rsp).i2cCancel {
		// the engine needs a moment to release the bus
		time.Sleep(i2cPollWait)
	}

	return nil
}

// i2cIdle brings the I²C engine to an idle state before a new transfer,
// cancelling a stale transfer left over from an earlier failure. If noStop is
// true, a write awaiting a repeated start is also accepted as idle.
func (mcp *MCP2221A) i2cIdle(noStop bool) error {

	stat, err := mcp.status()
	if nil != err {
		return fmt.Errorf("status(): %v", err)
	}

	if WordClr == stat.i2cState || (noStop && i2cStateWritingNoStop == stat.i2cState) {
		return nil
	}
	// a NACK or timeout latched by an earlier transfer also needs a cancel
	if err := mcp.i2cCancel(); nil != err {
		return fmt.Errorf("I2CCancel(): %v", err)
	}
	return nil
}

// i2cWait polls the I²C engine until done reports true for its state.
//
// Returns an error if the engine reports a fatal state, or ErrTimeout if the
// state did not settle within i2cPollMax polls.
func (mcp *MCP2221A) i2cWait(addr uint8, done func(state byte) bool) error {

	var state byte
	for poll := 0; poll < i2cPollMax; poll++ {
		stat, err := mcp.status()
		if nil != err {
			return fmt.Errorf("status(): %v", err)
		}
		state = stat.i2cState
		if err := stateErr(state, addr); nil != err {
			return err
		}
		if done(state) {
			return nil
		}
		time.Sleep(i2cPollWait)
	}

	return fmt.Errorf("%w: engine stuck in state 0x%02X", ErrTimeout, state)
}

// i2cWrite transmits out to the slave at addr. If stop is false, no STOP
// condition is generated and the bus remains active for a repeated start.
func (mcp *MCP2221A) i2cWrite(stop bool, addr uint8, out []byte) error {

	if 0 == len(out) {
		return nil
	}

	if err := mcp.i2cIdle(false); nil != err {
		return err
	}

	cmdID := cmdI2CWrite
	if !stop {
		cmdID = cmdI2CWriteNoStop
	}

	cnt := len(out)
	for pos := 0; pos < cnt; {

		sz := cnt - pos
		if sz > i2cChunkMax {
			sz = i2cChunkMax
		}

		cmd := makeMsg()
		cmd[1] = byte(cnt & 0xFF)
		cmd[2] = byte((cnt >> 8) & 0xFF)
		cmd[3] = byte(addr << 1)
		copy(cmd[4:], out[pos:pos+sz])

		if rsp, err := mcp.send(cmdID, cmd); nil != err {
			if nil != rsp {
				if serr := stateErr(rsp[2], addr); nil != serr {
					return serr
				}
			}
			return fmt.Errorf("send(): %v", err)
		}
		pos += sz

		// the next chunk can only be queued once this one left the buffer
		if err := mcp.i2cWait(addr, func(state byte) bool {
			return i2cStatePartialData != state
		}); nil != err {
			return err
		}
	}

	return mcp.i2cWait(addr, func(state byte) bool {
		return WordClr == state || (!stop && i2cStateWritingNoStop == state)
	})
}

// i2cGetData fetches the next block of data received by the bridge.
func (mcp *MCP2221A) i2cGetData(addr uint8) ([]byte, error) {

	for poll := 0; poll < i2cPollMax; poll++ {
		cmd := makeMsg()
		rsp, err := mcp.send(cmdI2CReadGetData, cmd)
		if nil != err {
			if nil == rsp {
				return nil, fmt.Errorf("send(): %v", err)
			}
			if serr := stateErr(rsp[2], addr); nil != serr {
				return nil, serr
			}
			if i2cStatePartialData != rsp[1] {
				return nil, fmt.Errorf("send(): %v", err)
			}
		} else if 0 != rsp[3] && i2cStateReadError != rsp[3] {
			return rsp, nil
		}
		time.Sleep(i2cPollWait)
	}

	return nil, fmt.Errorf("%w: no data from address (0x%02X)", ErrTimeout, addr)
}

// i2cRead fills in with bytes read from the slave at addr. If rep is true, a
// repeated START is generated, reading from the register selected by a
// preceding write without STOP.
func (mcp *MCP2221A) i2cRead(rep bool, addr uint8, in []byte) error {

	if 0 == len(in) {
		return nil
	}

	if err := mcp.i2cIdle(rep); nil != err {
		return err
	}

	cnt := len(in)

	cmd := makeMsg()
	cmd[1] = byte(cnt & 0xFF)
	cmd[2] = byte((cnt >> 8) & 0xFF)
	cmd[3] = byte((addr << 1) | 0x01)

	cmdID := cmdI2CRead
	if rep {
		cmdID = cmdI2CReadRepStart
	}

	if rsp, err := mcp.send(cmdID, cmd); nil != err {
		if nil != rsp {
			if serr := stateErr(rsp[2], addr); nil != serr {
				return serr
			}
		}
		return fmt.Errorf("send(): %v", err)
	}

	for pos := 0; pos < cnt; {
		rsp, err := mcp.i2cGetData(addr)
		if nil != err {
			return err
		}
		sz := int(rsp[3])
		if sz > i2cChunkMax {
			sz = i2cChunkMax
		}
		if sz > cnt-pos {
			sz = cnt - pos
		}
		copy(in[pos:], rsp[4:4+sz])
		pos += sz
	}

	return nil
}

// I2CWrite writes raw data to the slave at addr. If stop is true, an I²C STOP
// condition ends the transfer (the "usual" case); otherwise the bus remains
// active for a subsequent repeated start.
//
// Returns an error if the receiver is invalid, the I²C engine reports a NACK
// or timeout, or a command message could not be exchanged.
func (mcp *MCP2221A) I2CWrite(stop bool, addr uint8, out []byte) error {

	if err := mcp.lock(); nil != err {
		return err
	}
	defer mcp.mu.Unlock()

	return mcp.i2cWrite(stop, addr, out)
}

// I2CRead reads cnt bytes of raw data from the slave at addr. If rep is true,
// a REP-START condition is generated (instead of the usual START) to read from
// a subaddress selected by a preceding I2CWrite without STOP.
func (mcp *MCP2221A) I2CRead(rep bool, addr uint8, cnt uint16) ([]byte, error) {

	if err := mcp.lock(); nil != err {
		return nil, err
	}
	defer mcp.mu.Unlock()

	in := make([]byte, cnt)
	if err := mcp.i2cRead(rep, addr, in); nil != err {
		return nil, err
	}
	return in, nil
}

// I2CReadReg performs a standard write-then-read I²C operation for target
// devices with 8-bit register addresses.
func (mcp *MCP2221A) I2CReadReg(addr uint8, reg uint8, cnt uint16) ([]byte, error) {

	if err := mcp.lock(); nil != err {
		return nil, err
	}
	defer mcp.mu.Unlock()

	in := make([]byte, cnt)
	if err := mcp.writeRead(addr, []byte{reg}, in); nil != err {
		return nil, err
	}
	return in, nil
}

func (mcp *MCP2221A) writeRead(addr uint8, w, r []byte) error {

	if err := mcp.i2cWrite(false, addr, w); nil != err {
		return fmt.Errorf("I2CWrite(): %w", err)
	}
	if err := mcp.i2cRead(true, addr, r); nil != err {
		return fmt.Errorf("I2CRead(): %w", err)
	}
	return nil
}

// I2CScan scans a given address range and attempts to communicate with each
// device, ignoring any failures caused by non-existent targets.
//
// Returns a byte slice of 7-bit addresses that acknowledged, or an error if the
// receiver is invalid or given address range is invalid.
func (mcp *MCP2221A) I2CScan(start uint8, stop uint8) ([]uint8, error) {

	if start > stop || stop > 0x7F {
		return nil, fmt.Errorf("invalid address range [%d, %d]", start, stop)
	}

	if err := mcp.lock(); nil != err {
		return nil, err
	}
	defer mcp.mu.Unlock()

	found := []uint8{}
	for addr := int(start); addr <= int(stop); addr++ {
		if err := mcp.i2cWrite(true, uint8(addr), []byte{0x00}); nil == err {
			found = append(found, uint8(addr))
		}
	}

	return found, nil
}

// -- I²C ------------------------------------------------------------- [end] --
// -----------------------------------------------------------------------------

// -----------------------------------------------------------------------------
// -- BUS ----------------------------------------------------------- [start] --

// SetTargetAddress selects the 7-bit slave address used by Write and
// WriteRead. Address 0x00 (general call) is accepted.
func (mcp *MCP2221A) SetTargetAddress(addr uint16) error {

	if addr > 0x7F {
		return fmt.Errorf("invalid 7-bit address: 0x%X", addr)
	}

	if err := mcp.lock(); nil != err {
		return err
	}
	defer mcp.mu.Unlock()

	mcp.target = uint8(addr)
	return nil
}

// Write transmits b to the target in a single transfer ending with STOP.
func (mcp *MCP2221A) Write(b []byte) error {

	if err := mcp.lock(); nil != err {
		return err
	}
	defer mcp.mu.Unlock()

	return mcp.i2cWrite(true, mcp.target, b)
}

// WriteRead transmits w to the target without STOP, then reads len(r) bytes
// after a repeated START.
func (mcp *MCP2221A) WriteRead(w, r []byte) error {

	if err := mcp.lock(); nil != err {
		return err
	}
	defer mcp.mu.Unlock()

	return mcp.writeRead(mcp.target, w, r)
}

// -- BUS ------------------------------------------------------------- [end] --
// -----------------------------------------------------------------------------
