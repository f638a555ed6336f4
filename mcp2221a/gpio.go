package mcp2221a

import "fmt"

// GPIOMode and GPIODir represent two of the configuration parameters for all
// of the general purpose (GP) pins.
type (
	GPIOMode byte
	GPIODir  byte
)

// -----------------------------------------------------------------------------
// -- SRAM ---------------------------------------------------------- [start] --

// sramGet sends a command requesting current SRAM configuration and returns a
// byte slice within the given interval from the response message.
//
// Returns a nil slice and error if the given range is invalid or if the
// configuration command could not be sent.
func (mcp *MCP2221A) sramGet(start byte, stop byte) ([]byte, error) {

	if (start > stop) || (stop >= MsgSz) {
		return nil, fmt.Errorf("invalid byte range: [%d, %d]", start, stop)
	}

	cmd := makeMsg()
	rsp, err := mcp.send(cmdSRAMGet, cmd)
	if nil != err {
		return nil, fmt.Errorf("send(): %v", err)
	}
	return rsp[start : stop+1], nil
}

// -- SRAM ------------------------------------------------------------ [end] --
// -----------------------------------------------------------------------------

// -----------------------------------------------------------------------------
// -- GPIO ---------------------------------------------------------- [start] --

// Constants associated with the GPIO module.
const (
	// GPPinCount is the number of GPIO pins available.
	GPPinCount = 4

	// GPIO operation modes:         GP0       GP1       GP2      GP3
	ModeGPIO     GPIOMode = 0x00 //  GPIO      GPIO      GPIO     GPIO
	ModeDediFunc GPIOMode = 0x01 //  SSPND     CLK OUT   USBCFG   LED_I2C
	ModeInvalid  GPIOMode = 0xEE // invalid mode is used as error condition

	// GPIO directions
	DirOutput  GPIODir = 0x00 // direction OUT is used for writing values to pins
	DirInput   GPIODir = 0x01 // direction IN is used for reading values from pins
	DirInvalid GPIODir = 0xEF // invalid direction is used as error condition
)

// GPIOSetConfig configures a given pin with a default output value, operation
// mode, and direction.
//
// Returns an error if the receiver is invalid, the pin index is invalid, the
// current configuration could not be read, or if the new configuration could
// not be sent.
func (mcp *MCP2221A) GPIOSetConfig(pin byte, val byte, mode GPIOMode, dir GPIODir) error {

	if pin >= GPPinCount {
		return fmt.Errorf("invalid GPIO pin: %d", pin)
	}

	if err := mcp.lock(); nil != err {
		return err
	}
	defer mcp.mu.Unlock()

	cur, err := mcp.sramGet(22, 25)
	if nil != err {
		return fmt.Errorf("sramGet(): %v", err)
	}

	// every GP designation is written with the command, so start from the
	// current settings of all pins
	cmd := makeMsg()
	cmd[7] = WordSet
	copy(cmd[8:12], cur)
	cmd[8+pin] = ((val & 0x01) << 4) | (byte(dir) << 3) | byte(mode)

	if _, err := mcp.send(cmdSRAMSet, cmd); nil != err {
		return fmt.Errorf("send(): %v", err)
	}

	return nil
}

// GPIOGetConfig reads the current default output value, operation mode, and
// direction of a given pin.
func (mcp *MCP2221A) GPIOGetConfig(pin byte) (byte, GPIOMode, GPIODir, error) {

	if pin >= GPPinCount {
		return WordClr, ModeInvalid, DirInvalid, fmt.Errorf("invalid GPIO pin: %d", pin)
	}

	if err := mcp.lock(); nil != err {
		return WordClr, ModeInvalid, DirInvalid, err
	}
	defer mcp.mu.Unlock()

	rsp, err := mcp.sramGet(22, 25)
	if nil != err {
		return WordClr, ModeInvalid, DirInvalid, fmt.Errorf("sramGet(): %v", err)
	}

	mode := GPIOMode(rsp[pin] & 0x07)
	dir := GPIODir((rsp[pin] >> 3) & 0x01)
	val := (rsp[pin] >> 4) & 0x01
	return val, mode, dir, nil
}

// GPIOSet sets the digital output value for a given pin.
//
// Returns an error if the receiver is invalid, the pin index is invalid, or if
// the pin value could not be set (e.g. pin not configured for GPIO operation).
func (mcp *MCP2221A) GPIOSet(pin byte, val byte) error {

	if pin >= GPPinCount {
		return fmt.Errorf("invalid GPIO pin: %d", pin)
	}

	if err := mcp.lock(); nil != err {
		return err
	}
	defer mcp.mu.Unlock()

	cmd := makeMsg()

	i := 2 + 4*pin
	cmd[i+0] = WordSet // alter output value (to val)
	cmd[i+1] = val
	cmd[i+2] = WordSet // alter GPIO direction (to output)
	cmd[i+3] = byte(DirOutput)

	if _, err := mcp.send(cmdGPIOSet, cmd); nil != err {
		return fmt.Errorf("send(): %v", err)
	}

	return nil
}

// GPIOGet gets the current digital value of a given pin.
func (mcp *MCP2221A) GPIOGet(pin byte) (byte, error) {

	if pin >= GPPinCount {
		return WordClr, fmt.Errorf("invalid GPIO pin: %d", pin)
	}

	if err := mcp.lock(); nil != err {
		return WordClr, err
	}
	defer mcp.mu.Unlock()

	cmd := makeMsg()
	rsp, err := mcp.send(cmdGPIOGet, cmd)
	if nil != err {
		return WordClr, fmt.Errorf("send(): %v", err)
	}

	i := 2 + 2*pin
	if byte(ModeInvalid) == rsp[i] {
		return WordClr, fmt.Errorf("pin not in GPIO mode: %d", pin)
	}
	return rsp[i], nil
}

// OutputEnable drives the PCA9685's active-low /OE input wired to the given
// pin. Outputs are enabled (pin low) when enable is true. The pin is put in
// GPIO output mode first, with the same level as its power-up default so the
// outputs don't glitch after a bridge reset.
func (mcp *MCP2221A) OutputEnable(pin byte, enable bool) error {

	level := byte(1)
	if enable {
		level = 0
	}

	val, mode, dir, err := mcp.GPIOGetConfig(pin)
	if nil != err {
		return fmt.Errorf("GPIOGetConfig(): %v", err)
	}
	if ModeGPIO != mode || DirOutput != dir || level != val {
		if err := mcp.GPIOSetConfig(pin, level, ModeGPIO, DirOutput); nil != err {
			return fmt.Errorf("GPIOSetConfig(): %v", err)
		}
	}

	return mcp.GPIOSet(pin, level)
}

// -- GPIO ------------------------------------------------------------ [end] --
// -----------------------------------------------------------------------------
