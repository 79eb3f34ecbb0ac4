package mcu

import (
	"github.com/pkg/errors"

	"motorprofiler/profiler/scc"
	"motorprofiler/protocol"
)

// TuningState is the answer to ott_start and ott_query.
type TuningState struct {
	State        uint8
	Tuned        bool
	NominalSpeed float32 // rpm
}

// SCCCommand sends one commissioning command and returns the state byte the
// firmware answered with.
func (m *MCU) SCCCommand(cmd uint8) (scc.State, error) {
	payload, err := m.Query(protocol.MsgSCCCmd, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQBytes(output, []byte{cmd})
	}, protocol.MsgSCCCmdResponse)
	if err != nil {
		return 0, err
	}
	status, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return 0, errors.Wrap(err, "scc_cmd_response status")
	}
	data, err := protocol.DecodeVLQBytes(&payload)
	if err != nil {
		return 0, errors.Wrap(err, "scc_cmd_response data")
	}
	var state scc.State
	if len(data) > 0 {
		state = scc.State(data[0])
	}
	switch uint8(status) {
	case scc.CmdOK:
		return state, nil
	case scc.CmdNOK:
		return state, errors.Wrapf(ErrRefused, "scc_cmd %d in state %s", cmd, state)
	case scc.CmdNoTxSyncSpace:
		return state, ErrNoTxSpace
	}
	return state, errors.Wrapf(ErrUnknownStatus, "status %#x", status)
}

// QueryProfile reads the current motor profile.
func (m *MCU) QueryProfile() (protocol.ProfileResult, error) {
	payload, err := m.Query(protocol.MsgProfileQuery, nil, protocol.MsgProfileResult)
	if err != nil {
		return protocol.ProfileResult{}, err
	}
	p, err := protocol.DecodeProfileResult(&payload)
	return p, errors.Wrap(err, "profile_result")
}

// SetMotorParams sends what is known about the motor before commissioning.
func (m *MCU) SetMotorParams(p protocol.MotorParams) error {
	return m.SendCommand(protocol.MsgSetMotorParams, p.Encode)
}

// StartTuning starts the speed loop tuning.
func (m *MCU) StartTuning() (TuningState, error) {
	return m.tuning(protocol.MsgOTTStart)
}

// QueryTuning reads the speed loop tuning state.
func (m *MCU) QueryTuning() (TuningState, error) {
	return m.tuning(protocol.MsgOTTQuery)
}

func (m *MCU) tuning(cmd string) (TuningState, error) {
	payload, err := m.Query(cmd, nil, protocol.MsgOTTState)
	if err != nil {
		return TuningState{}, err
	}
	var vals [3]uint32
	for i := range vals {
		if vals[i], err = protocol.DecodeVLQUint(&payload); err != nil {
			return TuningState{}, errors.Wrap(err, "ott_state")
		}
	}
	return TuningState{
		State:        uint8(vals[0]),
		Tuned:        vals[1] != 0,
		NominalSpeed: protocol.Float32FromBits(vals[2]),
	}, nil
}

// StartDrive spins the motor in speed control.
func (m *MCU) StartDrive(rpm int32) error {
	return m.SendCommand(protocol.MsgDriveStart, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQInt(output, rpm)
	})
}

// StopDrive stops whatever the firmware runs.
func (m *MCU) StopDrive() error {
	return m.SendCommand(protocol.MsgDriveStop, nil)
}
