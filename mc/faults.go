package mc

// FaultCode is a bitmask of protection events.
type FaultCode uint16

const (
	NoError        FaultCode = 0x00
	FaultDuration  FaultCode = 0x01 // control loop overran its period
	FaultOverVolt  FaultCode = 0x02
	FaultUnderVolt FaultCode = 0x04
	FaultOverTemp  FaultCode = 0x08
	FaultStartUp   FaultCode = 0x10
	FaultSpeedFdbk FaultCode = 0x20
	FaultOverCurr  FaultCode = 0x40
	FaultSWError   FaultCode = 0x80
)

var faultNames = [...]struct {
	code FaultCode
	name string
}{
	{FaultDuration, "duration"},
	{FaultOverVolt, "over_voltage"},
	{FaultUnderVolt, "under_voltage"},
	{FaultOverTemp, "over_temperature"},
	{FaultStartUp, "startup"},
	{FaultSpeedFdbk, "speed_feedback"},
	{FaultOverCurr, "over_current"},
	{FaultSWError, "sw_error"},
}

// Has reports whether all bits of f are set.
func (c FaultCode) Has(f FaultCode) bool {
	return f != 0 && c&f == f
}

func (c FaultCode) String() string {
	if c == NoError {
		return "none"
	}
	s := ""
	for _, fn := range faultNames {
		if c&fn.code != 0 {
			if s != "" {
				s += "|"
			}
			s += fn.name
		}
	}
	if s == "" {
		return "unknown"
	}
	return s
}
