package profiler

import (
	"motorprofiler/core"
	"motorprofiler/mc"
	"motorprofiler/profiler/ott"
	"motorprofiler/profiler/scc"
	"motorprofiler/protocol"
)

// sccTxSpace is the room a scc_cmd_response leaves for command data.
const sccTxSpace = 8

// RegisterCommands adds the session commands and responses to the firmware
// command table and stops the session on shutdown.
func (s *Session) RegisterCommands() {
	core.RegisterCommand(protocol.MsgSCCCmd, protocol.FmtSCCCmd, s.handleSCCCmd)
	core.RegisterCommand(protocol.MsgProfileQuery, "", s.handleProfileQuery)
	core.RegisterCommand(protocol.MsgOTTStart, "", s.handleOTTStart)
	core.RegisterCommand(protocol.MsgOTTQuery, "", s.handleOTTQuery)
	core.RegisterCommand(protocol.MsgSetMotorParams, protocol.FmtSetMotorParams, s.handleSetMotorParams)
	core.RegisterCommand(protocol.MsgDriveStart, protocol.FmtDriveStart, s.handleDriveStart)
	core.RegisterCommand(protocol.MsgDriveStop, "", s.handleDriveStop)

	// Responses
	core.RegisterCommand(protocol.MsgSCCCmdResponse, protocol.FmtSCCCmdResponse, nil)
	core.RegisterCommand(protocol.MsgProfileResult, protocol.FmtProfileResult, nil)
	core.RegisterCommand(protocol.MsgOTTState, protocol.FmtOTTState, nil)

	core.RegisterEnumeration("scc_state", enumNames(func(i uint8) string { return scc.State(i).String() }))
	core.RegisterEnumeration("ott_state", enumNames(func(i uint8) string { return ott.State(i).String() }))
	core.RegisterEnumeration("session_mode", enumNames(func(i uint8) string { return Mode(i).String() }))
	faults := make([]string, 8)
	for i := range faults {
		faults[i] = mc.FaultCode(1 << i).String()
	}
	core.RegisterEnumeration("fault_bit", faults)

	core.RegisterShutdownHook(s.Stop)
}

// enumNames lists name(0), name(1), ... up to the first unknown value.
func enumNames(name func(uint8) string) []string {
	var out []string
	for i := 0; i < 256; i++ {
		n := name(uint8(i))
		if n == "unknown" {
			break
		}
		out = append(out, n)
	}
	return out
}

// Command runs a raw commissioning command. Starting a procedure goes
// through the session so that it owns the bridge.
func (s *Session) Command(rx []byte, txSyncFreeSpace int, tx []byte) (int, uint8) {
	if len(rx) == 1 && (rx[0] == scc.CmdSCStart || rx[0] == scc.CmdPPDStart) {
		if txSyncFreeSpace < 1 || len(tx) < 1 {
			return 0, scc.CmdNoTxSyncSpace
		}
		if err := s.ready(); err != nil {
			tx[0] = byte(s.scc.State())
			return 1, scc.CmdNOK
		}
	}
	n, status := s.scc.Command(rx, txSyncFreeSpace, tx)
	if len(rx) == 1 {
		core.RecordEvent(core.EvtCommand, s.oid, s.ticks, uint32(rx[0]), uint32(status))
	}
	if status == scc.CmdOK && s.scc.IsRunning() && s.mode != ModeCommissioning {
		s.ppd = rx[0] == scc.CmdPPDStart
		if !s.ppd {
			s.commissioned = false
		}
		s.enterMode(ModeCommissioning)
	}
	return n, status
}

func (s *Session) handleSCCCmd(data *[]byte) error {
	rx, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	tx := make([]byte, sccTxSpace)
	n, status := s.Command(rx, len(tx), tx)
	core.SendResponse(protocol.MsgSCCCmdResponse, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(status))
		protocol.EncodeVLQBytes(output, tx[:n])
	})
	return nil
}

func (s *Session) handleProfileQuery(data *[]byte) error {
	p := s.ProfileResult()
	core.SendResponse(protocol.MsgProfileResult, p.Encode)
	return nil
}

func (s *Session) handleOTTStart(data *[]byte) error {
	if err := s.StartTuning(); err != nil {
		s.log.Errorw("tuning refused", "error", err.Error())
	}
	return s.handleOTTQuery(data)
}

func (s *Session) handleOTTQuery(data *[]byte) error {
	state := uint32(s.ott.State())
	tuned := uint32(0)
	if s.ott.IsMotorAlreadyProfiled() {
		tuned = 1
	}
	nominal := s.ott.NominalSpeedBits()
	core.SendResponse(protocol.MsgOTTState, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, state)
		protocol.EncodeVLQUint(output, tuned)
		protocol.EncodeVLQUint(output, nominal)
	})
	return nil
}

func (s *Session) handleSetMotorParams(data *[]byte) error {
	p, err := protocol.DecodeMotorParams(data)
	if err != nil {
		return err
	}
	return s.SetMotor(p.PolePairs, float32(p.NominalCurrent)/1000, p.NominalSpeed,
		float32(p.LdLq)/1000, float32(p.Bandwidth)/1000)
}

func (s *Session) handleDriveStart(data *[]byte) error {
	rpm, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	if err := s.StartDrive(rpm); err != nil {
		s.log.Errorw("drive refused", "error", err.Error(), "rpm", rpm)
	}
	return nil
}

func (s *Session) handleDriveStop(data *[]byte) error {
	s.Stop()
	return nil
}
