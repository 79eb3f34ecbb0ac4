package mc

// SpeedPosFeedback is the capability shared by every speed and position
// source: virtual speed sensor, sensorless observer and encoder.
type SpeedPosFeedback interface {
	ElAngle() int16
	MecAngle() int16
	// AvrgMecSpeedUnit is the last averaged mechanical speed in SpeedUnit.
	AvrgMecSpeedUnit() int16
	// ElSpeedDpp is the instantaneous electrical speed in digits per period.
	ElSpeedDpp() int16
}

// CurrentFeedback exposes the latest measured rotating-frame currents.
type CurrentFeedback interface {
	Iqd() Qd
}
