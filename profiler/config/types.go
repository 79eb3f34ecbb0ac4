package config

// Config is the complete commissioning setup for one motor on one board.
type Config struct {
	Motor      MotorConfig      `json:"motor"`
	Board      BoardConfig      `json:"board"`
	SCC        SCCConfig        `json:"scc"`
	OTT        OTTConfig        `json:"ott"`
	RSEST      RSESTConfig      `json:"rsest"`
	VSS        VSSConfig        `json:"vss"`
	Observer   ObserverConfig   `json:"observer"`
	Encoder    EncoderConfig    `json:"encoder"`
	BusVoltage BusVoltageConfig `json:"bus_voltage"`
	NTC        NTCConfig        `json:"ntc"`
	Host       HostConfig       `json:"host"`
}

// MotorConfig holds what is known about the motor before commissioning.
type MotorConfig struct {
	PolePairs       uint8   `json:"pole_pairs"`
	NominalCurrentA float32 `json:"nominal_current"`   // peak amps
	NominalSpeedRPM int32   `json:"nominal_speed_rpm"` // mechanical
	LdLqRatio       float32 `json:"ldlq_ratio"`
	MaxCurrentA     float32 `json:"max_current"` // Rs measurement ceiling
	RsRatedOhm      float32 `json:"rs_rated"`    // 0 = take the measured value
	RatedCelsius    float32 `json:"rated_celsius"`
	CopperMassKg    float32 `json:"copper_mass"`
	CoolingTauS     float32 `json:"cooling_tau"`
}

// BoardConfig describes the power stage and the control timing.
type BoardConfig struct {
	RShunt                 float32 `json:"rshunt"`
	AmplificationGain      float32 `json:"amplification_gain"`
	MCUPowerSupply         float32 `json:"mcu_power_supply"`
	VbusConvFactor         float32 `json:"vbus_conversion_factor"`
	VbusPartitioningFactor float32 `json:"vbus_partitioning_factor"`
	RVNK                   float32 `json:"rvnk"` // power board series resistance
	NominalVbus            float32 `json:"nominal_vbus"`
	PWMFreqHz              uint16  `json:"pwm_freq"`
	FOCRepRate             uint8   `json:"foc_rep_rate"`
	MFFreqHz               uint32  `json:"mf_freq"`
	MaxModule              uint16  `json:"max_module"`
	MaxVd                  uint16  `json:"max_vd"`
}

// SCCConfig times the self-commissioning phases.
type SCCConfig struct {
	DutyRampDurationMs    uint16  `json:"duty_ramp_ms"`
	AlignmentDurationMs   uint16  `json:"alignment_ms"`
	RSDetectionDurationMs uint16  `json:"rs_detection_ms"`
	CurrentBandwidth      float32 `json:"current_bandwidth"` // rad/s
	IThreshold            float32 `json:"i_threshold"`
	PBCharacterization    bool    `json:"pb_characterization"`
}

// OTTConfig drives the speed loop tuning.
type OTTConfig struct {
	RampDurationMs     uint16  `json:"ramp_ms"`
	Bandwidth          float32 `json:"bandwidth"` // rad/s
	MeasWinSec         float32 `json:"meas_win"`
	CurrRegStabTimeSec float32 `json:"curr_reg_stab_time"`
	LowSpeedPerc       float32 `json:"low_speed_perc"`
	HighSpeedPerc      float32 `json:"high_speed_perc"`
	SpeedStabTimeSec   float32 `json:"speed_stab_time"`
	TimeOutSec         float32 `json:"timeout"`
	SpeedMargin        float32 `json:"speed_margin"`
	SpdKp              float32 `json:"spd_kp"`
	SpdKi              float32 `json:"spd_ki"`
}

// RSESTConfig tunes the online resistance estimator.
type RSESTConfig struct {
	AmbientCelsius  float32 `json:"ambient_celsius"`
	MotorSkinFactor float32 `json:"skin_factor"`
	CorrectionGain  float32 `json:"correction_gain"`
	InjectGain      float32 `json:"inject_gain"`
	BackgroundHz    float32 `json:"background_freq"`
	MaxRfactor      float32 `json:"max_rfactor"`
	CurrentLowRatio float32 `json:"current_low_ratio"`
	IncRateLimit    float32 `json:"inc_rate_limit"`
}

// VSSConfig shapes the open-loop to observer hand-over.
type VSSConfig struct {
	TransitionSteps int16  `json:"transition_steps"`
	LockRange       uint16 `json:"lock_range"` // angle digits
}

// ObserverConfig sets the BEMF observer PLL.
type ObserverConfig struct {
	PLLBandwidthHz   float32 `json:"pll_bandwidth"`
	PLLDamping       float32 `json:"pll_damping"`
	VarianceFraction float32 `json:"variance_fraction"`
	MinEMFVolt       float32 `json:"min_emf"`
}

// EncoderConfig enables the quadrature encoder and its alignment.
type EncoderConfig struct {
	Enabled         bool    `json:"enabled"`
	PulseNumber     uint32  `json:"pulse_number"` // counts per turn after x4
	Inverted        bool    `json:"inverted"`
	SpeedSamplingHz uint32  `json:"speed_sampling_freq"`
	AlignDurationMs uint16  `json:"align_ms"`
	AlignElAngleDeg float32 `json:"align_angle"`
}

// BusVoltageConfig sets the bus filter and protection thresholds in volts.
type BusVoltageConfig struct {
	LowPassFilterBW uint16  `json:"lpf_bw"`
	OverVoltage     float32 `json:"over_voltage"`
	OverVoltageLow  float32 `json:"over_voltage_low"` // hysteresis release
	UnderVoltage    float32 `json:"under_voltage"`
}

// NTCConfig describes the temperature sensor. A virtual sensor always reads
// ExpectedCelsius.
type NTCConfig struct {
	Virtual         bool    `json:"virtual"`
	LowPassFilterBW uint16  `json:"lpf_bw"`
	OverTempC       float32 `json:"over_temp"`
	OverTempDeactC  float32 `json:"over_temp_deact"`
	Sensitivity     int32   `json:"sensitivity"` // degC*65536 per digit
	V0              uint32  `json:"v0"`          // digit at T0
	T0              int16   `json:"t0"`
	ExpectedCelsius int16   `json:"expected_celsius"`
}

// HostConfig is only read by the host tool.
type HostConfig struct {
	SerialDevice string `json:"serial_device"`
	Baud         int    `json:"baud"`
	MQTTBroker   string `json:"mqtt_broker"`
	MQTTTopic    string `json:"mqtt_topic"`
	MQTTClientID string `json:"mqtt_client_id"`
	Simulate     bool   `json:"simulate"`
}
