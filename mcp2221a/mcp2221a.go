// Package mcp2221a implements the pca9685 Bus interface on top of the
// Microchip MCP2221A USB to GPIO/I²C protocol converter, letting a host PC
// without a native I²C controller drive a PCA9685 over USB. The I²C and GPIO
// modules of the MCP2221A are USB HID-class devices; the UART (CDC) is unused.
//
// Besides the I²C transport, the GPIO pins can drive the PCA9685's active-low
// output enable (/OE) input.
//
// Datasheet: http://ww1.microchip.com/downloads/en/devicedoc/20005565b.pdf
//
// USB HID support provided by: https://github.com/karalabe/hid
package mcp2221a

import (
	"fmt"
	"sync"
	"time"

	usb "github.com/karalabe/hid"
)

// VID and PID are the official vendor and product identifiers assigned by the
// USB-IF.
const (
	VID = 0x04D8 // 16-bit vendor ID for Microchip Technology Inc.
	PID = 0x00DD // 16-bit product ID for the Microchip MCP2221A.
)

// MsgSz is the size (in bytes) of all command and response messages.
const MsgSz = 64

// ClkHz is the internal clock frequency of the MCP2221A.
const ClkHz = 12000000

// WordSet and WordClr are the logical true and false values for a single word
// (byte) in a message.
const (
	WordSet byte = 0xFF // All bits set
	WordClr byte = 0x00 // All bits clear
)

// makeMsg creates a new zero'd slice with required length of command and
// response messages, both of which are always 64 bytes.
func makeMsg() []byte { return make([]byte, MsgSz) }

// Constants for all commands used by this package. These are sent as the first
// word in all command messages, and are echoed back as the first word in all
// response messages.
const (
	cmdStatus    byte = 0x10
	cmdSetParams byte = 0x10

	cmdI2CWrite        byte = 0x90
	cmdI2CWriteNoStop  byte = 0x94
	cmdI2CRead         byte = 0x91
	cmdI2CReadRepStart byte = 0x93
	cmdI2CReadGetData  byte = 0x40

	cmdGPIOSet byte = 0x50
	cmdGPIOGet byte = 0x51

	cmdSRAMSet byte = 0x60
	cmdSRAMGet byte = 0x61

	cmdReset byte = 0x70
)

// -----------------------------------------------------------------------------
// -- DEVICE -------------------------------------------------------- [start] --
//

// hidDevice is the subset of *usb.Device used to exchange messages.
type hidDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// MCP2221A is an opened USB HID connection to one MCP2221A. It satisfies the
// pca9685.Bus interface; every transfer is addressed to the target set with
// SetTargetAddress.
//
// If multiple MCP2221A devices are connected to the host PC, the index of the
// desired target can be determined with AttachedDevices() and passed to New().
// Call Close() when finished to release the USB connection.
type MCP2221A struct {
	Index byte
	VID   uint16
	PID   uint16

	mu     sync.Mutex
	dev    hidDevice
	target uint8
}

// AttachedDevices returns a slice of all connected USB HID device descriptors
// matching the given VID and PID.
//
// Returns an empty slice if no devices were found.
func AttachedDevices(vid uint16, pid uint16) []usb.DeviceInfo {
	return usb.Enumerate(vid, pid)
}

// open claims the USB HID device enumerated at idx.
func open(idx byte, vid uint16, pid uint16) (hidDevice, error) {

	info := AttachedDevices(vid, pid)
	if int(idx) >= len(info) {
		return nil, fmt.Errorf("device index %d out of range [0, %d)", idx, len(info))
	}

	return info[idx].Open()
}

// New opens the MCP2221A with the given VID and PID, enumerated at the given
// index (an index of 0 will use the first device found).
//
// Returns an error if index is out of range (according to AttachedDevices()) or
// if the USB HID device could not be claimed or opened.
func New(idx byte, vid uint16, pid uint16) (*MCP2221A, error) {

	dev, err := open(idx, vid, pid)
	if nil != err {
		return nil, err
	}

	return &MCP2221A{Index: idx, VID: vid, PID: pid, dev: dev}, nil
}

// valid verifies the receiver and USB HID device are both not nil.
//
// Returns false with a descriptive error if any required field is nil.
func (mcp *MCP2221A) valid() (bool, error) {

	if nil == mcp {
		return false, fmt.Errorf("nil MCP2221A")
	}

	if nil == mcp.dev {
		return false, fmt.Errorf("nil USB HID device")
	}

	return true, nil
}

// lock acquires mu and verifies the USB HID device is still open. The caller
// releases mu only if lock returns nil.
func (mcp *MCP2221A) lock() error {

	if nil == mcp {
		return fmt.Errorf("nil MCP2221A")
	}

	mcp.mu.Lock()
	if ok, err := mcp.valid(); !ok {
		mcp.mu.Unlock()
		return err
	}

	return nil
}

// Close releases the USB HID connection. Closing twice returns an error.
func (mcp *MCP2221A) Close() error {

	if err := mcp.lock(); nil != err {
		return err
	}
	defer mcp.mu.Unlock()

	err := mcp.dev.Close()
	mcp.dev = nil
	return err
}

// send transmits an MCP2221A command message and returns the response message.
// The data argument is a byte slice created by makeMsg(), and the cmd argument
// is one of the command byte constants, inserted at index 0 automatically.
//
// A nil slice is returned with an error if the USB HID device could not be
// written to or read from. If a response was read, it is returned along with
// an error if it is short or if its status byte does not indicate success, so
// that callers can inspect the I²C state machine. Reset has no response; a nil
// slice and nil error are returned for it.
func (mcp *MCP2221A) send(cmd byte, data []byte) ([]byte, error) {

	if ok, err := mcp.valid(); !ok {
		return nil, err
	}

	data[0] = cmd
	if _, err := mcp.dev.Write(data); nil != err {
		return nil, fmt.Errorf("Write([cmd=0x%02X]): %v", cmd, err)
	}

	if cmdReset == cmd {
		return nil, nil
	}

	rsp := makeMsg()
	recv, err := mcp.dev.Read(rsp)
	if nil != err {
		return nil, fmt.Errorf("Read([cmd=0x%02X]): %v", cmd, err)
	}
	if recv < MsgSz {
		return rsp, fmt.Errorf("Read([cmd=0x%02X]): short read (%d of %d bytes)", cmd, recv, MsgSz)
	}
	if rsp[0] != cmd || rsp[1] != WordClr {
		return rsp, fmt.Errorf("Read([cmd=0x%02X]): command failed (0x%02X)", cmd, rsp[1])
	}

	return rsp, nil
}

// Reset sends a reset command and then reopens the same USB HID device, giving
// up after timeout. The I²C target address is kept.
//
// Returns an error if the reset command could not be sent, the old handle could
// not be closed, or if the device did not re-enumerate before the timeout. The
// receiver is left closed on any error after the command was sent.
func (mcp *MCP2221A) Reset(timeout time.Duration) error {

	if err := mcp.lock(); nil != err {
		return err
	}
	defer mcp.mu.Unlock()

	cmd := makeMsg()
	cmd[1] = 0xAB
	cmd[2] = 0xCD
	cmd[3] = 0xEF

	if _, err := mcp.send(cmdReset, cmd); nil != err {
		return fmt.Errorf("send(): %v", err)
	}
	if err := mcp.dev.Close(); nil != err {
		mcp.dev = nil
		return fmt.Errorf("Close(): %v", err)
	}
	mcp.dev = nil

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		// the device disappears from the bus for a moment after reset
		time.Sleep(100 * time.Millisecond)
		if dev, err := open(mcp.Index, mcp.VID, mcp.PID); nil == err {
			mcp.dev = dev
			return nil
		}
	}

	return fmt.Errorf("New([%d]): timed out reopening USB HID device", mcp.Index)
}

// status contains the I²C engine fields parsed from the response message of a
// status command.
type status struct {
	i2cCancel byte
	i2cSpdChg byte
	i2cState  byte
}

// newStatus parses the response message of a status command.
//
// Returns nil if the given response message is nil or has inadequate length.
func newStatus(msg []byte) *status {
	if nil == msg || len(msg) < MsgSz {
		return nil
	}
	return &status{
		i2cCancel: msg[2],
		i2cSpdChg: msg[3],
		i2cState:  msg[8],
	}
}

// status sends a status command request and parses the response.
func (mcp *MCP2221A) status() (*status, error) {

	cmd := makeMsg()
	rsp, err := mcp.send(cmdStatus, cmd)
	if nil != err {
		return nil, fmt.Errorf("send(): %v", err)
	}
	return newStatus(rsp), nil
}

// -- DEVICE ---------------------------------------------------------- [end] --
// -----------------------------------------------------------------------------
