package mc

import "math"

// SpeedUnit is the number of speed units per Hz of mechanical speed.
const SpeedUnit = 10

const sqrt3 = 1.7320508

// CurrentDigitsPerAmp is the current scale of a shunt + amplifier chain.
func CurrentDigitsPerAmp(rshunt, gain, vdd float32) float32 {
	return 65536 * rshunt * gain / vdd
}

// VoltDigitsPerVolt is the phase-peak voltage scale at bus voltage vbus.
func VoltDigitsPerVolt(vbus float32) float32 {
	if vbus <= 0 {
		return 0
	}
	return 32768 * sqrt3 / vbus
}

// BusVoltToDigit converts volts to bus voltage digits.
func BusVoltToDigit(v, conversionFactor float32) uint16 {
	d := v * 65536 / conversionFactor
	if d >= 65535 {
		return 65535
	}
	if d <= 0 {
		return 0
	}
	return uint16(d + 0.5)
}

// BusDigitToVolt converts bus voltage digits to volts.
func BusDigitToVolt(d uint16, conversionFactor float32) float32 {
	return float32(d) * conversionFactor / 65536
}

// MecSpeedUnitToDpp32 returns the electrical speed in 16.16 angle digits per
// control period for a mechanical speed in SpeedUnit.
func MecSpeedUnitToDpp32(speed int16, polePairs uint8, controlHz uint32) int32 {
	if controlHz == 0 {
		return 0
	}
	v := int64(speed) * int64(polePairs) << 32 / (int64(SpeedUnit) * int64(controlHz))
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// Dpp32ToMecSpeedUnit is the inverse of MecSpeedUnitToDpp32, rounded to
// nearest.
func Dpp32ToMecSpeedUnit(dpp32 int32, polePairs uint8, controlHz uint32) int16 {
	if polePairs == 0 {
		return 0
	}
	num := int64(dpp32) * int64(controlHz) * SpeedUnit
	den := int64(polePairs) << 32
	var v int64
	if num >= 0 {
		v = (num + den/2) / den
	} else {
		v = (num - den/2) / den
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// DppToElRadPerSec converts an electrical speed in angle digits per period to
// rad/s.
func DppToElRadPerSec(dpp float32, controlHz uint32) float32 {
	return dpp * 2 * math.Pi * float32(controlHz) / 65536
}

// MecSpeedUnitToRPM converts SpeedUnit to revolutions per minute.
func MecSpeedUnitToRPM(speed int16) int32 {
	return int32(speed) * 60 / SpeedUnit
}

// RPMToMecSpeedUnit converts revolutions per minute to SpeedUnit with
// saturation.
func RPMToMecSpeedUnit(rpm int32) int16 {
	v := rpm * SpeedUnit / 60
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// MecSpeedUnitToRadPerSec converts SpeedUnit to mechanical rad/s.
func MecSpeedUnitToRadPerSec(speed float32) float32 {
	return speed * 2 * math.Pi / SpeedUnit
}
