//go:build js && wasm

package main

import (
	"encoding/hex"
	"encoding/json"
	"syscall/js"

	"motorprofiler/profiler"
	"motorprofiler/protocol"
)

func main() {
	js.Global().Set("profilerWasm", js.ValueOf(map[string]interface{}{
		"crc16":             js.FuncOf(crc16Wrapper),
		"encodeMessage":     js.FuncOf(encodeMessageWrapper),
		"decodeMessage":     js.FuncOf(decodeMessageWrapper),
		"decodeProfile":     js.FuncOf(decodeProfileWrapper),
		"encodeMotorParams": js.FuncOf(encodeMotorParamsWrapper),
		"version":           protocol.Version,
	}))

	select {}
}

// crc16Wrapper calculates the frame checksum of a hex string.
func crc16Wrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(0)
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return js.ValueOf(0)
	}
	return js.ValueOf(int(protocol.CRC16(data)))
}

// encodeMessageWrapper frames a command.
// Args: cmdID (uint16), argsHex (string) - VLQ encoded parameters
// Returns: hex string of the complete frame
func encodeMessageWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return js.ValueOf("error: missing arguments")
	}
	cmdID := uint16(args[0].Int())
	argBytes, err := hex.DecodeString(args[1].String())
	if err != nil {
		return js.ValueOf("error: invalid args hex: " + err.Error())
	}
	return js.ValueOf(frame(cmdID, func(output protocol.OutputBuffer) {
		if len(argBytes) > 0 {
			output.Output(argBytes)
		}
	}))
}

// encodeMotorParamsWrapper frames set_motor_params.
// Args: cmdID, polePairs, nominal current (A), nominal speed (rpm), Ld/Lq,
// current loop bandwidth (rad/s)
func encodeMotorParamsWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 6 {
		return js.ValueOf("error: missing arguments")
	}
	p := protocol.MotorParams{
		PolePairs:      uint8(args[1].Int()),
		NominalCurrent: uint32(args[2].Float() * 1000),
		NominalSpeed:   int32(args[3].Int()),
		LdLq:           uint32(args[4].Float() * 1000),
		Bandwidth:      uint32(args[5].Float() * 1000),
	}
	return js.ValueOf(frame(uint16(args[0].Int()), p.Encode))
}

func frame(cmdID uint16, args func(output protocol.OutputBuffer)) string {
	out := protocol.NewScratchOutput()
	protocol.NewTransport(out, nil).SendCommand(cmdID, args)
	return hex.EncodeToString(out.Result())
}

// decodeMessageWrapper splits one frame.
// Returns: {length, sequence, cmdID, payload (hex), crc, crcValid, error}
func decodeMessageWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("missing hex string argument")
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return errorResult("invalid hex string: " + err.Error())
	}
	// len + seq + crc + sync
	if len(data) < 5 {
		return errorResult("message too short")
	}
	msgLen := int(data[0])
	if msgLen < 5 || msgLen > len(data) || data[msgLen-1] != 0x7e {
		return errorResult("bad frame length or missing sync byte")
	}

	frameCRC := uint16(data[msgLen-3])<<8 | uint16(data[msgLen-2])
	result := map[string]interface{}{
		"length":   msgLen,
		"sequence": int(data[1] & 0x0f),
		"crc":      int(frameCRC),
		"crcValid": frameCRC == protocol.CRC16(data[:msgLen-3]),
		"cmdID":    0,
		"payload":  "",
	}
	payload := data[2 : msgLen-3]
	if len(payload) > 0 {
		cmdID, consumed, err := protocol.DecodeVLQ(payload)
		if err != nil {
			result["error"] = "failed to decode command ID: " + err.Error()
			return js.ValueOf(result)
		}
		result["cmdID"] = int(cmdID)
		result["payload"] = hex.EncodeToString(payload[consumed:])
	}
	return js.ValueOf(result)
}

// decodeProfileWrapper turns the payload of a profile_result, without the
// message id, into the JSON report the host prints.
func decodeProfileWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("missing hex string argument")
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return errorResult("invalid hex string: " + err.Error())
	}
	p, err := protocol.DecodeProfileResult(&data)
	if err != nil {
		return errorResult("profile_result: " + err.Error())
	}
	b, err := json.Marshal(profiler.ResultFromProfile(p))
	if err != nil {
		return errorResult(err.Error())
	}
	return js.ValueOf(map[string]interface{}{"json": string(b)})
}

func errorResult(msg string) js.Value {
	return js.ValueOf(map[string]interface{}{"error": msg})
}
