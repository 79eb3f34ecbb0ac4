package protocol

import "math"

// Motor profiler messages. The firmware registers them by name and the host
// learns their IDs from the data dictionary, so only names and formats are
// shared here.
const (
	MsgSCCCmd         = "scc_cmd"
	MsgSCCCmdResponse = "scc_cmd_response"
	MsgProfileQuery   = "profile_query"
	MsgProfileResult  = "profile_result"
	MsgOTTStart       = "ott_start"
	MsgOTTQuery       = "ott_query"
	MsgOTTState       = "ott_state"
	MsgSetMotorParams = "set_motor_params"
	MsgDriveStart     = "drive_start"
	MsgDriveStop      = "drive_stop"
)

// Message formats, in dictionary syntax.
const (
	FmtSCCCmd         = "data=%*s"
	FmtSCCCmdResponse = "status=%c data=%*s"
	FmtProfileResult  = "state=%c mode=%c fault=%c rs=%u ls=%u ke=%u vbus=%u maxol=%i acc=%u j=%u f=%u kp=%u ki=%u pp=%c"
	FmtOTTState       = "state=%c tuned=%c nominal=%u"
	FmtSetMotorParams = "pole_pairs=%c nominal_current=%u nominal_speed=%i ldlq=%u bw=%u"
	FmtDriveStart     = "rpm=%i"
)

// ProfileResult is the payload of profile_result. Floats travel as their
// IEEE-754 bit patterns.
type ProfileResult struct {
	State     uint8
	Mode      uint8
	Fault     uint8
	Rs        uint32
	Ls        uint32
	Ke        uint32
	Vbus      uint32
	MaxOL     int32 // rpm
	Acc       uint32
	J         uint32
	F         uint32
	Kp        uint32
	Ki        uint32
	PolePairs uint8
}

// Encode writes the fields in format order.
func (r *ProfileResult) Encode(output OutputBuffer) {
	EncodeVLQUint(output, uint32(r.State))
	EncodeVLQUint(output, uint32(r.Mode))
	EncodeVLQUint(output, uint32(r.Fault))
	EncodeVLQUint(output, r.Rs)
	EncodeVLQUint(output, r.Ls)
	EncodeVLQUint(output, r.Ke)
	EncodeVLQUint(output, r.Vbus)
	EncodeVLQInt(output, r.MaxOL)
	EncodeVLQUint(output, r.Acc)
	EncodeVLQUint(output, r.J)
	EncodeVLQUint(output, r.F)
	EncodeVLQUint(output, r.Kp)
	EncodeVLQUint(output, r.Ki)
	EncodeVLQUint(output, uint32(r.PolePairs))
}

// DecodeProfileResult reads a profile_result payload.
func DecodeProfileResult(data *[]byte) (ProfileResult, error) {
	var r ProfileResult
	var u [14]uint32
	for i := range u {
		v, err := DecodeVLQInt(data)
		if err != nil {
			return r, err
		}
		u[i] = uint32(v)
	}
	r.State, r.Mode, r.Fault = uint8(u[0]), uint8(u[1]), uint8(u[2])
	r.Rs, r.Ls, r.Ke, r.Vbus = u[3], u[4], u[5], u[6]
	r.MaxOL = int32(u[7])
	r.Acc, r.J, r.F, r.Kp, r.Ki = u[8], u[9], u[10], u[11], u[12]
	r.PolePairs = uint8(u[13])
	return r, nil
}

// MotorParams is the payload of set_motor_params. Currents are in mA and
// ratios and bandwidths in thousandths.
type MotorParams struct {
	PolePairs      uint8
	NominalCurrent uint32 // mA
	NominalSpeed   int32  // rpm
	LdLq           uint32 // x1000
	Bandwidth      uint32 // rad/s x1000
}

// Encode writes the fields in format order.
func (p *MotorParams) Encode(output OutputBuffer) {
	EncodeVLQUint(output, uint32(p.PolePairs))
	EncodeVLQUint(output, p.NominalCurrent)
	EncodeVLQInt(output, p.NominalSpeed)
	EncodeVLQUint(output, p.LdLq)
	EncodeVLQUint(output, p.Bandwidth)
}

// DecodeMotorParams reads a set_motor_params payload.
func DecodeMotorParams(data *[]byte) (MotorParams, error) {
	var p MotorParams
	var u [5]uint32
	for i := range u {
		v, err := DecodeVLQInt(data)
		if err != nil {
			return p, err
		}
		u[i] = uint32(v)
	}
	p.PolePairs = uint8(u[0])
	p.NominalCurrent = u[1]
	p.NominalSpeed = int32(u[2])
	p.LdLq = u[3]
	p.Bandwidth = u[4]
	return p, nil
}

// Float32FromBits decodes a float sent as its bit pattern.
func Float32FromBits(b uint32) float32 { return math.Float32frombits(b) }

// Float32Bits encodes a float as its bit pattern.
func Float32Bits(f float32) uint32 { return math.Float32bits(f) }
