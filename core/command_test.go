package core

import (
	"testing"

	"motorprofiler/protocol"
)

// captureSender records the responses sent through SendResponse.
type captureSender struct {
	ids  []uint16
	data [][]byte
}

func (c *captureSender) SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) {
	out := protocol.NewScratchOutput()
	args(out)
	c.ids = append(c.ids, cmdID)
	c.data = append(c.data, append([]byte(nil), out.Result()...))
}

// resetGlobals gives each test a fresh registry, dictionary and transport.
func resetGlobals(t *testing.T) *captureSender {
	t.Helper()
	globalRegistry = NewCommandRegistry()
	globalDictionary = NewDictionary(globalRegistry)
	sender := &captureSender{}
	SetGlobalTransport(sender)
	shutdownHooks = nil
	ResetFirmwareState()
	ClearEventRing()
	t.Cleanup(func() { SetGlobalTransport(nil) })
	return sender
}

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var got []byte
	id := registry.Register("scc_cmd", "data=%*s", func(data *[]byte) error {
		b, err := protocol.DecodeVLQBytes(data)
		got = b
		return err
	})
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}
	if again := registry.Register("scc_cmd", "data=%*s", nil); again != id {
		t.Errorf("Expected re-registration to return %d, got %d", id, again)
	}

	out := protocol.NewScratchOutput()
	protocol.EncodeVLQBytes(out, []byte{1})
	data := out.Result()
	if err := registry.Dispatch(id, &data); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected payload [1], got %v", got)
	}

	if err := registry.Dispatch(99, &data); err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandsAndResponses(t *testing.T) {
	registry := NewCommandRegistry()
	registry.Register("profile_query", "", func(data *[]byte) error { return nil })
	registry.Register("profile_result", "state=%c", nil)

	commands, responses := registry.GetCommandsAndResponses()
	if commands["profile_query"] != 0 {
		t.Errorf("Expected profile_query as a command, got %v", commands)
	}
	if responses["profile_result state=%c"] != 1 {
		t.Errorf("Expected profile_result as a response, got %v", responses)
	}
	if err := registry.Dispatch(1, nil); err == nil {
		t.Error("Expected error dispatching a response")
	}
}

func TestCoreCommandIDs(t *testing.T) {
	resetGlobals(t)
	InitCoreCommands()

	for name, want := range map[string]uint16{"identify_response": 0, "identify": 1} {
		cmd, ok := globalRegistry.GetCommandByName(name)
		if !ok || cmd.ID != want {
			t.Errorf("Expected %s at ID %d, got %+v", name, want, cmd)
		}
	}
}

func TestGetClock(t *testing.T) {
	sender := resetGlobals(t)
	InitCoreCommands()
	SetTime(12345)

	var data []byte
	if err := handleGetClock(&data); err != nil {
		t.Fatal(err)
	}
	if len(sender.data) != 1 {
		t.Fatalf("Expected one response, got %d", len(sender.data))
	}
	clock, err := protocol.DecodeVLQUint(&sender.data[0])
	if err != nil || clock != 12345 {
		t.Errorf("Expected clock 12345, got %d (%v)", clock, err)
	}
}

func TestShutdownRunsHooksOnce(t *testing.T) {
	sender := resetGlobals(t)
	InitCoreCommands()

	calls := 0
	RegisterShutdownHook(func() { calls++ })

	var data []byte
	if err := handleEmergencyStop(&data); err != nil {
		t.Fatal(err)
	}
	TryShutdown("again")
	if calls != 1 {
		t.Errorf("Expected the hook to run once, got %d", calls)
	}
	if !IsShutdown() {
		t.Error("Expected shutdown state")
	}
	if len(sender.data) != 1 {
		t.Fatalf("Expected one shutdown message, got %d", len(sender.data))
	}
	msg := sender.data[0]
	if _, err := protocol.DecodeVLQUint(&msg); err != nil {
		t.Fatal(err)
	}
	if reason, _ := protocol.DecodeVLQString(&msg); reason != "emergency stop" {
		t.Errorf("Expected reason 'emergency stop', got %q", reason)
	}

	ResetFirmwareState()
	if IsShutdown() {
		t.Error("Expected shutdown cleared")
	}
}

func TestFinalizeConfig(t *testing.T) {
	sender := resetGlobals(t)
	InitCoreCommands()

	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, 0xBEEF)
	data := out.Result()
	if err := handleFinalizeConfig(&data); err != nil {
		t.Fatal(err)
	}
	if err := handleGetConfig(&data); err != nil {
		t.Fatal(err)
	}
	msg := sender.data[0]
	isConfig, _ := protocol.DecodeVLQUint(&msg)
	crc, _ := protocol.DecodeVLQUint(&msg)
	if isConfig != 1 || crc != 0xBEEF {
		t.Errorf("Expected configured with crc 0xBEEF, got %d %#x", isConfig, crc)
	}
}
