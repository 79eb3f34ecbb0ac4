package core

import (
	"sync/atomic"

	"motorprofiler/protocol"
)

// ResponseSender frames and sends a message to the host.
// *protocol.Transport implements it.
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

// firmware is the link-level state the host can query and reset.
type firmware struct {
	configCRC    atomic.Uint32
	shutdown     atomic.Bool
	resetPending atomic.Bool

	transport    ResponseSender
	resetHandler func()
}

var (
	fw            firmware
	shutdownHooks []func()
)

// InitCoreCommands registers the commands every firmware answers. The host
// bootstraps with identify_response = 0 and identify = 1, so those two go
// first.
func InitCoreCommands() {
	RegisterCommand("identify_response", "offset=%u data=%*s", nil)
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify)

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", func(*[]byte) error {
		fw.configCRC.Store(0)
		return nil
	})
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("reset", "", func(*[]byte) error {
		// the reset itself waits for CheckPendingReset, after the ack is out
		fw.resetPending.Store(true)
		return nil
	})

	RegisterCommand("clock", "clock=%u", nil)
	RegisterCommand("uptime", "high=%u clock=%u", nil)
	RegisterCommand("config", "is_config=%c crc=%u is_shutdown=%c", nil)
	RegisterCommand("shutdown", "clock=%u reason=%*s", nil)
}

func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func handleGetUptime(*[]byte) error {
	up := GetUptime()
	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(up>>32))
		protocol.EncodeVLQUint(output, uint32(up))
	})
	return nil
}

func handleGetClock(*[]byte) error {
	now := GetTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, now)
	})
	return nil
}

func handleGetConfig(*[]byte) error {
	crc := fw.configCRC.Load()
	SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolArg(crc != 0))
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, boolArg(fw.shutdown.Load()))
	})
	return nil
}

func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	fw.configCRC.Store(crc)
	return nil
}

func handleEmergencyStop(*[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// RegisterShutdownHook adds fn to what runs on shutdown. Hooks run in
// registration order and must not block.
func RegisterShutdownHook(fn func()) {
	shutdownHooks = append(shutdownHooks, fn)
}

// TryShutdown stops everything and reports reason to the host. Only the
// first call counts until ResetFirmwareState.
func TryShutdown(reason string) {
	if !fw.shutdown.CompareAndSwap(false, true) {
		return
	}
	for _, fn := range shutdownHooks {
		fn()
	}
	DumpEventRing()
	now := GetTime()
	SendResponse("shutdown", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, now)
		protocol.EncodeVLQString(output, reason)
	})
}

func IsShutdown() bool {
	return fw.shutdown.Load()
}

// ResetFirmwareState clears the shutdown flag and the config crc, for a host
// that reconnects.
func ResetFirmwareState() {
	fw.configCRC.Store(0)
	fw.shutdown.Store(false)
}

// SendResponse frames the named response on the global transport. Sending
// before a transport is set is a no-op.
func SendResponse(name string, args func(output protocol.OutputBuffer)) {
	if fw.transport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		// all responses are registered at init
		panic("response not registered: " + name)
	}
	fw.transport.SendCommand(cmd.ID, args)
}

func SetGlobalTransport(transport ResponseSender) {
	fw.transport = transport
}

// SetResetHandler sets how the platform reboots.
func SetResetHandler(handler func()) {
	fw.resetHandler = handler
}

// CheckPendingReset reboots if the host asked to. The main loop calls it
// once the pending output has been written.
func CheckPendingReset() {
	if fw.resetPending.Load() && fw.resetHandler != nil {
		fw.resetHandler()
	}
}
