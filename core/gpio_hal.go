package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// GPIODriver is the digital I/O the board code needs: gate enable outputs
// and the driver fault input.
type GPIODriver interface {
	ConfigureOutput(pin GPIOPin) error
	ConfigureInputPullUp(pin GPIOPin) error
	SetPin(pin GPIOPin, value bool) error
	ReadPin(pin GPIOPin) bool
}
