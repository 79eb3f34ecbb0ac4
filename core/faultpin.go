package core

import "motorprofiler/mc"

// FaultInput latches an active-low protection line, such as a gate driver
// nFAULT or an over-current comparator, as an mc.FaultSource.
type FaultInput struct {
	drv   GPIODriver
	pin   GPIOPin
	code  mc.FaultCode
	latch mc.FaultCode
}

// NewFaultInput configures pin with a pull-up and reports code while it is,
// or has been, low.
func NewFaultInput(drv GPIODriver, pin GPIOPin, code mc.FaultCode) (*FaultInput, error) {
	if err := drv.ConfigureInputPullUp(pin); err != nil {
		return nil, err
	}
	return &FaultInput{drv: drv, pin: pin, code: code}, nil
}

// Faults implements mc.FaultSource.
func (f *FaultInput) Faults() uint16 {
	if !f.drv.ReadPin(f.pin) {
		if f.latch == 0 {
			RecordEvent(EvtFault, 0, GetTime(), uint32(f.code), uint32(f.pin))
		}
		f.latch = f.code
	}
	return uint16(f.latch)
}

// ClearFaults releases the latch. It stays set while the line is still low.
func (f *FaultInput) ClearFaults() {
	f.latch = 0
	f.Faults()
}
