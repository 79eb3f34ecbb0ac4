package profiler

import (
	"motorprofiler/mc"
	"motorprofiler/profiler/ott"
	"motorprofiler/profiler/scc"
	"motorprofiler/protocol"
)

// Result is the motor profile published to the host.
type Result struct {
	Mode           string  `json:"mode"`
	SCCState       string  `json:"scc_state"`
	OTTState       string  `json:"ott_state,omitempty"`
	Fault          string  `json:"fault"`
	RsOhm          float32 `json:"rs_ohm"`
	LsHenry        float32 `json:"ls_henry"`
	Ke             float32 `json:"ke_vrms_per_krpm"`
	BusVoltage     float32 `json:"vbus_v"`
	PolePairs      uint8   `json:"pole_pairs"`
	MaxOLSpeedRPM  int32   `json:"max_ol_rpm"`
	MaxAccelRPMs   uint32  `json:"max_accel_rpm_s"`
	SpeedTuned     bool    `json:"speed_tuned"`
	J              float32 `json:"j_kgm2"`
	F              float32 `json:"f_nms"`
	SpeedKp        float32 `json:"speed_kp"`
	SpeedKi        float32 `json:"speed_ki"`
	RsHotOhm       float32 `json:"rs_hot_ohm,omitempty"`
	WindingCelsius float32 `json:"winding_c,omitempty"`
}

// Result collects the latest profile.
func (s *Session) Result() Result {
	c, t := s.scc, s.ott
	r := Result{
		Mode:          s.mode.String(),
		SCCState:      c.State().String(),
		Fault:         (s.fault | c.Fault()).String(),
		RsOhm:         c.RsOhm(),
		LsHenry:       c.LsHenry(),
		Ke:            c.Ke(),
		BusVoltage:    c.BusVoltage(),
		PolePairs:     s.cfg.Motor.PolePairs,
		MaxOLSpeedRPM: c.EstMaxOLSpeed(),
		MaxAccelRPMs:  c.EstMaxAcceleration(),
		SpeedTuned:    t.IsMotorAlreadyProfiled(),
	}
	if t.State() != ott.StateIdle {
		r.OTTState = t.State().String()
	}
	if r.SpeedTuned {
		r.J, r.F = t.J(), t.F()
		r.SpeedKp, r.SpeedKi = t.Kp(), t.Ki()
	}
	if s.rsest != nil {
		r.RsHotOhm = s.rsest.RsOhm()
		r.WindingCelsius = s.rsest.TempCelsius()
	}
	return r
}

// ProfileResult is the wire form of Result.
func (s *Session) ProfileResult() protocol.ProfileResult {
	c, t := s.scc, s.ott
	p := protocol.ProfileResult{
		State:     uint8(c.State()),
		Mode:      uint8(s.mode),
		Fault:     uint8(s.fault | c.Fault()),
		Rs:        c.RsBits(),
		Ls:        c.LsBits(),
		Ke:        c.KeBits(),
		Vbus:      c.VbusBits(),
		MaxOL:     c.EstMaxOLSpeed(),
		Acc:       c.EstMaxAcceleration(),
		PolePairs: s.cfg.Motor.PolePairs,
	}
	if t.IsMotorAlreadyProfiled() {
		p.J = mc.FloatToIntBit(t.J())
		p.F = mc.FloatToIntBit(t.F())
		p.Kp = mc.FloatToIntBit(t.Kp())
		p.Ki = mc.FloatToIntBit(t.Ki())
	}
	return p
}

// ResultFromProfile decodes a profile received from the firmware.
func ResultFromProfile(p protocol.ProfileResult) Result {
	r := Result{
		Mode:          Mode(p.Mode).String(),
		SCCState:      scc.State(p.State).String(),
		Fault:         mc.FaultCode(p.Fault).String(),
		RsOhm:         mc.IntBitToFloat(p.Rs),
		LsHenry:       mc.IntBitToFloat(p.Ls),
		Ke:            mc.IntBitToFloat(p.Ke),
		BusVoltage:    mc.IntBitToFloat(p.Vbus),
		PolePairs:     p.PolePairs,
		MaxOLSpeedRPM: p.MaxOL,
		MaxAccelRPMs:  p.Acc,
		SpeedTuned:    p.J != 0,
	}
	if r.SpeedTuned {
		r.J = mc.IntBitToFloat(p.J)
		r.F = mc.IntBitToFloat(p.F)
		r.SpeedKp = mc.IntBitToFloat(p.Kp)
		r.SpeedKi = mc.IntBitToFloat(p.Ki)
	}
	return r
}
