// Package config loads the commissioning setup and turns it into the
// parameter blocks of the profiler and mc packages.
package config

import (
	"encoding/json"
	"errors"
	"math"
	"os"

	"motorprofiler/mc"
	"motorprofiler/mc/busvoltage"
	"motorprofiler/mc/encoder"
	"motorprofiler/mc/ntc"
	"motorprofiler/mc/observer"
	"motorprofiler/mc/vss"
	"motorprofiler/profiler/ott"
	"motorprofiler/profiler/rsest"
	"motorprofiler/profiler/scc"
)

var (
	ErrNoPolePairs   = errors.New("config: motor pole_pairs must be set")
	ErrNoCurrent     = errors.New("config: motor nominal_current must be set")
	ErrNoSpeed       = errors.New("config: motor nominal_speed_rpm must be set")
	ErrBoardScaling  = errors.New("config: board rshunt, amplification_gain and mcu_power_supply must be positive")
	ErrBusScaling    = errors.New("config: board needs vbus_conversion_factor or vbus_partitioning_factor")
	ErrRepRate       = errors.New("config: foc_rep_rate must be at least 1")
	ErrOverTempOrder = errors.New("config: ntc over_temp_deact must be below over_temp")
	ErrShortRS       = errors.New("config: scc rs_detection_ms leaves less than two MF ticks per level")
)

// LoadConfig parses JSON configuration data and fills in defaults.
func LoadConfig(jsonData []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(jsonData, &config); err != nil {
		return nil, err
	}
	applyDefaults(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadConfigFile reads and parses a configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadConfig(data)
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(config *Config) {
	m := &config.Motor
	if m.LdLqRatio == 0 {
		m.LdLqRatio = 1
	}
	if m.MaxCurrentA == 0 {
		m.MaxCurrentA = m.NominalCurrentA
	}
	if m.RatedCelsius == 0 {
		m.RatedCelsius = 25
	}
	if m.CopperMassKg == 0 {
		m.CopperMassKg = 0.1
	}
	if m.CoolingTauS == 0 {
		m.CoolingTauS = 300 // 5 minutes
	}

	b := &config.Board
	if b.NominalVbus == 0 {
		b.NominalVbus = 24
	}
	if b.PWMFreqHz == 0 {
		b.PWMFreqHz = 20000
	}
	if b.FOCRepRate == 0 {
		b.FOCRepRate = 2
	}
	if b.MFFreqHz == 0 {
		b.MFFreqHz = 1000
	}
	if b.MaxModule == 0 {
		b.MaxModule = 31000 // ~95% modulation
	}
	if b.MaxVd == 0 {
		b.MaxVd = b.MaxModule
	}

	s := &config.SCC
	if s.DutyRampDurationMs == 0 {
		s.DutyRampDurationMs = 2000
	}
	if s.AlignmentDurationMs == 0 {
		s.AlignmentDurationMs = 200
	}
	if s.RSDetectionDurationMs == 0 {
		s.RSDetectionDurationMs = 400
	}
	if s.CurrentBandwidth == 0 {
		s.CurrentBandwidth = 3000
	}
	if s.IThreshold == 0 {
		s.IThreshold = 0.01
	}

	o := &config.OTT
	if o.RampDurationMs == 0 {
		o.RampDurationMs = 1000
	}
	if o.Bandwidth == 0 {
		o.Bandwidth = 62.8 // 10 Hz
	}
	if o.MeasWinSec == 0 {
		o.MeasWinSec = 0.05
	}
	if o.CurrRegStabTimeSec == 0 {
		o.CurrRegStabTimeSec = 0.01
	}
	if o.LowSpeedPerc == 0 {
		o.LowSpeedPerc = 0.3
	}
	if o.HighSpeedPerc == 0 {
		o.HighSpeedPerc = 0.6
	}
	if o.SpeedStabTimeSec == 0 {
		o.SpeedStabTimeSec = 0.3
	}
	if o.TimeOutSec == 0 {
		o.TimeOutSec = 2
	}
	if o.SpeedMargin == 0 {
		o.SpeedMargin = 0.05
	}
	if o.SpdKp == 0 {
		o.SpdKp = 40
	}
	if o.SpdKi == 0 {
		o.SpdKi = 0.4
	}

	r := &config.RSEST
	if r.AmbientCelsius == 0 {
		r.AmbientCelsius = 25
	}
	if r.CorrectionGain == 0 {
		r.CorrectionGain = 0.1
	}
	if r.BackgroundHz == 0 {
		r.BackgroundHz = float32(b.MFFreqHz)
	}

	v := &config.VSS
	if v.TransitionSteps == 0 {
		v.TransitionSteps = 100
	}
	if v.LockRange == 0 {
		v.LockRange = 24576 // 135 degrees
	}

	ob := &config.Observer
	if ob.PLLBandwidthHz == 0 {
		ob.PLLBandwidthHz = 50
	}
	if ob.PLLDamping == 0 {
		ob.PLLDamping = 0.707
	}
	if ob.VarianceFraction == 0 {
		ob.VarianceFraction = 0.25
	}

	e := &config.Encoder
	if e.PulseNumber == 0 {
		e.PulseNumber = 4096
	}
	if e.SpeedSamplingHz == 0 {
		e.SpeedSamplingHz = b.MFFreqHz
	}
	if e.AlignDurationMs == 0 {
		e.AlignDurationMs = 700
	}
	if e.AlignElAngleDeg == 0 {
		e.AlignElAngleDeg = 90
	}

	bv := &config.BusVoltage
	if bv.LowPassFilterBW == 0 {
		bv.LowPassFilterBW = 16
	}
	if bv.OverVoltage == 0 {
		bv.OverVoltage = b.NominalVbus * 1.25
	}
	if bv.OverVoltageLow == 0 {
		bv.OverVoltageLow = bv.OverVoltage * 0.95
	}
	if bv.UnderVoltage == 0 {
		bv.UnderVoltage = b.NominalVbus * 0.33
	}

	n := &config.NTC
	if n.LowPassFilterBW == 0 {
		n.LowPassFilterBW = 16
	}
	if n.Sensitivity == 0 {
		n.Sensitivity = 143 // 3.3 V over 23 mV/degC
	}
	if n.V0 == 0 {
		n.V0 = 20950 // 1.055 V
	}
	if n.T0 == 0 {
		n.T0 = 25
	}
	if n.OverTempC == 0 {
		n.OverTempC = 110
	}
	if n.OverTempDeactC == 0 {
		n.OverTempDeactC = n.OverTempC - 10
	}
	if n.ExpectedCelsius == 0 {
		n.ExpectedCelsius = 25
	}

	h := &config.Host
	if h.Baud == 0 {
		h.Baud = 250000
	}
	if h.MQTTTopic == "" {
		h.MQTTTopic = "motorprofiler/result"
	}
	if h.MQTTClientID == "" {
		h.MQTTClientID = "motorprofiler"
	}
}

// Validate checks the fields that have no sensible default.
func (c *Config) Validate() error {
	switch {
	case c.Motor.PolePairs == 0:
		return ErrNoPolePairs
	case c.Motor.NominalCurrentA <= 0:
		return ErrNoCurrent
	case c.Motor.NominalSpeedRPM <= 0:
		return ErrNoSpeed
	case c.Board.RShunt <= 0 || c.Board.AmplificationGain <= 0 || c.Board.MCUPowerSupply <= 0:
		return ErrBoardScaling
	case c.Board.VbusConvFactor <= 0 && c.Board.VbusPartitioningFactor <= 0:
		return ErrBusScaling
	case c.Board.FOCRepRate == 0:
		return ErrRepRate
	case c.NTC.OverTempDeactC >= c.NTC.OverTempC:
		return ErrOverTempOrder
	case scc.RSLevelTicks(c.SCC.RSDetectionDurationMs, c.Board.MFFreqHz) < 2:
		return ErrShortRS
	}
	return nil
}

// DefaultConfig returns a complete setup for a small 24 V motor on a
// 50 mOhm shunt board.
func DefaultConfig() *Config {
	config := &Config{
		Motor: MotorConfig{
			PolePairs:       4,
			NominalCurrentA: 2,
			NominalSpeedRPM: 2000,
		},
		Board: BoardConfig{
			RShunt:            0.05,
			AmplificationGain: 5,
			MCUPowerSupply:    3.3,
			VbusConvFactor:    66,
		},
		Encoder: EncoderConfig{
			Enabled: false,
		},
		Host: HostConfig{
			SerialDevice: "/dev/ttyACM0",
		},
	}
	applyDefaults(config)
	return config
}

// FOCFrequencyHz is the current loop rate.
func (c *Config) FOCFrequencyHz() uint32 {
	return uint32(c.Board.PWMFreqHz) / uint32(max(c.Board.FOCRepRate, 1))
}

// BusConversionFactor is the bus voltage read as full scale.
func (c *Config) BusConversionFactor() float32 {
	if c.Board.VbusConvFactor > 0 {
		return c.Board.VbusConvFactor
	}
	return c.Board.MCUPowerSupply / c.Board.VbusPartitioningFactor
}

// CurrentDigitsPerAmp is the board current scale.
func (c *Config) CurrentDigitsPerAmp() float32 {
	return mc.CurrentDigitsPerAmp(c.Board.RShunt, c.Board.AmplificationGain, c.Board.MCUPowerSupply)
}

// SCCParams returns the self-commissioning parameters.
func (c *Config) SCCParams() scc.Params {
	return scc.Params{
		RampFrequencyHz:        c.Board.MFFreqHz,
		RShunt:                 c.Board.RShunt,
		AmplificationGain:      c.Board.AmplificationGain,
		VbusConvFactor:         c.Board.VbusConvFactor,
		VbusPartitioningFactor: c.Board.VbusPartitioningFactor,
		RVNK:                   c.Board.RVNK,
		RSMeasCurrLevelMax:     c.Motor.MaxCurrentA,
		DutyRampDurationMs:     c.SCC.DutyRampDurationMs,
		AlignmentDurationMs:    c.SCC.AlignmentDurationMs,
		RSDetectionDurationMs:  c.SCC.RSDetectionDurationMs,
		LdLqRatio:              c.Motor.LdLqRatio,
		CurrentBW:              c.SCC.CurrentBandwidth,
		PBCharacterization:     c.SCC.PBCharacterization,
		NominalSpeedRPM:        c.Motor.NominalSpeedRPM,
		PWMFreqHz:              c.Board.PWMFreqHz,
		FOCRepRate:             c.Board.FOCRepRate,
		MCUPowerSupply:         c.Board.MCUPowerSupply,
		IThreshold:             c.SCC.IThreshold,
		PolePairs:              c.Motor.PolePairs,
		NominalCurrentA:        c.Motor.NominalCurrentA,
	}
}

// OTTParams returns the speed loop tuning parameters.
func (c *Config) OTTParams() ott.Params {
	return ott.Params{
		MFFrequencyHz:      c.Board.MFFreqHz,
		RampDurationMs:     c.OTT.RampDurationMs,
		BandwidthDef:       c.OTT.Bandwidth,
		MeasWinSec:         c.OTT.MeasWinSec,
		PolePairs:          c.Motor.PolePairs,
		MaxPositiveTorque:  c.MaxTorqueDigits(),
		CurrRegStabTimeSec: c.OTT.CurrRegStabTimeSec,
		LowSpeedPerc:       c.OTT.LowSpeedPerc,
		HighSpeedPerc:      c.OTT.HighSpeedPerc,
		SpeedStabTimeSec:   c.OTT.SpeedStabTimeSec,
		TimeOutSec:         c.OTT.TimeOutSec,
		SpeedMargin:        c.OTT.SpeedMargin,
		NominalSpeedRPM:    c.Motor.NominalSpeedRPM,
		SpdKp:              c.OTT.SpdKp,
		SpdKi:              c.OTT.SpdKi,
		RShunt:             c.Board.RShunt,
		AmplificationGain:  c.Board.AmplificationGain,
	}
}

// MaxTorqueDigits is the nominal current in current digits.
func (c *Config) MaxTorqueDigits() int16 {
	d := c.Motor.NominalCurrentA * c.CurrentDigitsPerAmp()
	return int16(min(d, math.MaxInt16))
}

// RSESTParams returns the estimator parameters. rsRated replaces the
// configured rated resistance when the latter is unset.
func (c *Config) RSESTParams(rsRated float32) rsest.Params {
	if c.Motor.RsRatedOhm > 0 {
		rsRated = c.Motor.RsRatedOhm
	}
	return rsest.Params{
		// 32768 digits at both scales
		FullScaleCurrentA: 32768 / c.CurrentDigitsPerAmp(),
		FullScaleVoltageV: c.Board.NominalVbus / float32(math.Sqrt(3)),
		RatedCelsius:      c.Motor.RatedCelsius,
		AmbientCelsius:    c.RSEST.AmbientCelsius,
		RsRatedOhm:        rsRated,
		MotorSkinFactor:   c.RSEST.MotorSkinFactor,
		FCalculateHz:      float32(c.FOCFrequencyHz()),
		CopperMassKg:      c.Motor.CopperMassKg,
		CoolingTauS:       c.Motor.CoolingTauS,
		CorrectionGain:    c.RSEST.CorrectionGain,
		InjectGain:        c.RSEST.InjectGain,
		BackgroundHz:      c.RSEST.BackgroundHz,
		MaxRfactor:        c.RSEST.MaxRfactor,
		CurrentLowRatio:   c.RSEST.CurrentLowRatio,
		IncRateLimit:      c.RSEST.IncRateLimit,
	}
}

// VSSParams returns the virtual speed sensor parameters.
func (c *Config) VSSParams() vss.Params {
	return vss.Params{
		PolePairs:       c.Motor.PolePairs,
		ControlFreqHz:   c.FOCFrequencyHz(),
		TransitionSteps: c.VSS.TransitionSteps,
		LockRange:       c.VSS.LockRange,
	}
}

// ObserverParams returns the BEMF observer parameters. Rs and Ls are filled
// in by commissioning.
func (c *Config) ObserverParams() observer.Params {
	return observer.Params{
		PolePairs:           c.Motor.PolePairs,
		ControlFreqHz:       c.FOCFrequencyHz(),
		CurrentDigitsPerAmp: c.CurrentDigitsPerAmp(),
		PLLBandwidthHz:      c.Observer.PLLBandwidthHz,
		PLLDamping:          c.Observer.PLLDamping,
		VarianceFraction:    c.Observer.VarianceFraction,
		MinEMFVolt:          c.Observer.MinEMFVolt,
	}
}

// EncoderParams returns the encoder parameters.
func (c *Config) EncoderParams() encoder.Params {
	return encoder.Params{
		PulseNumber:         c.Encoder.PulseNumber,
		PolePairs:           c.Motor.PolePairs,
		ControlFreqHz:       c.FOCFrequencyHz(),
		SpeedSamplingFreqHz: c.Encoder.SpeedSamplingHz,
		Inverted:            c.Encoder.Inverted,
	}
}

// AlignParams returns the encoder alignment parameters. The final reference
// is set by whoever runs the alignment.
func (c *Config) AlignParams() encoder.AlignParams {
	return encoder.AlignParams{
		FreqHz:     c.Board.MFFreqHz,
		DurationMs: c.Encoder.AlignDurationMs,
		ElAngle:    int16(int32(c.Encoder.AlignElAngleDeg*65536/360) & 0xFFFF),
		PolePairs:  c.Motor.PolePairs,
	}
}

// BusVoltageParams returns the bus sensor parameters in digits.
func (c *Config) BusVoltageParams() busvoltage.Params {
	conv := c.BusConversionFactor()
	return busvoltage.Params{
		ConversionFactor:        conv,
		LowPassFilterBW:         c.BusVoltage.LowPassFilterBW,
		OverVoltageThreshold:    mc.BusVoltToDigit(c.BusVoltage.OverVoltage, conv),
		OverVoltageThresholdLow: mc.BusVoltToDigit(c.BusVoltage.OverVoltageLow, conv),
		UnderVoltageThreshold:   mc.BusVoltToDigit(c.BusVoltage.UnderVoltage, conv),
	}
}

// NTCParams returns the temperature sensor parameters in digits.
func (c *Config) NTCParams() ntc.Params {
	n := c.NTC
	p := ntc.Params{
		Type:            ntc.RealSensor,
		LowPassFilterBW: n.LowPassFilterBW,
		Sensitivity:     n.Sensitivity,
		V0:              n.V0,
		T0:              n.T0,
		ExpectedTempC:   n.ExpectedCelsius,
	}
	if n.Virtual {
		p.Type = ntc.VirtualSensor
	}
	// thresholds go through the sensor's own conversion
	s := ntc.New(p)
	p.OverTempThreshold = s.DigitFromCelsius(n.OverTempC)
	p.OverTempDeactThreshold = s.DigitFromCelsius(n.OverTempDeactC)
	p.ExpectedTempDigit = s.DigitFromCelsius(float32(n.ExpectedCelsius))
	return p
}
