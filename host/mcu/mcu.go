package mcu

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"motorprofiler/host/serial"
	"motorprofiler/protocol"
)

const (
	identifyResponseID = 0
	identifyID         = 1
	identifyChunk      = 40
	responseTimeout    = time.Second
)

var (
	ErrNotConnected  = errors.New("mcu: not connected")
	ErrNoDictionary  = errors.New("mcu: dictionary not loaded")
	ErrRefused       = errors.New("mcu: command refused")
	ErrNoTxSpace     = errors.New("mcu: no room for the answer")
	ErrUnknownStatus = errors.New("mcu: unknown command status")
)

// MCU is a connection to the profiler firmware
type MCU struct {
	transport *protocol.HostTransport
	port      io.ReadWriteCloser
	log       golog.Logger

	dictionary     *Dictionary
	dictionaryData []byte

	connected bool
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU(logger golog.Logger) *MCU {
	return &MCU{log: logger}
}

// Connect opens the serial port and starts the transport
func (m *MCU) Connect(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	m.Attach(port)

	// Give MCU time to initialize (if it just powered on)
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Attach runs the transport over an already open port.
func (m *MCU) Attach(port io.ReadWriteCloser) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.connected = true
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	m.connected = false
	if m.transport != nil {
		return errors.Wrap(m.transport.Close(), "closing transport")
	}
	return nil
}

// RetrieveDictionary downloads and parses the firmware dictionary
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return ErrNotConnected
	}

	var dictBuffer bytes.Buffer
	offset := uint32(0)
	for i := 0; i < 1000; i++ {
		chunk, err := m.sendIdentify(offset, identifyChunk)
		if err != nil {
			return errors.Wrapf(err, "dictionary chunk at offset %d", offset)
		}
		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunk {
			break
		}
	}
	m.dictionaryData = dictBuffer.Bytes()

	dict, err := ParseDictionary(m.dictionaryData)
	if err != nil {
		return err
	}
	m.dictionary = dict
	m.log.Infow("dictionary loaded", "bytes", len(m.dictionaryData), "version", dict.Version,
		"commands", len(dict.Commands), "responses", len(dict.Responses))
	return nil
}

// sendIdentify sends an identify command and waits for response
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommand(identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to send identify")
	}

	payload, err := m.awaitResponse(identifyResponseID)
	if err != nil {
		return nil, err
	}
	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, errors.Wrap(err, "identify_response offset")
	}
	if respOffset != offset {
		return nil, errors.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}
	data, err := protocol.DecodeVLQBytes(&payload)
	return data, errors.Wrap(err, "identify_response data")
}

// awaitResponse waits for response id and returns its arguments. Other
// responses arriving in between are logged and dropped.
func (m *MCU) awaitResponse(id uint16) ([]byte, error) {
	deadline := time.Now().Add(responseTimeout)
	for {
		msg, err := m.transport.ReceiveResponse(time.Until(deadline))
		if err != nil {
			return nil, err
		}
		payload := msg.Payload
		got, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, errors.Wrap(err, "response id")
		}
		if uint16(got) == id {
			return payload, nil
		}
		name := ""
		if m.dictionary != nil {
			name = m.dictionary.ResponseName(uint16(got))
		}
		m.log.Debugw("unexpected response", "id", got, "name", name)
	}
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the raw dictionary data
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// PrintDictionary prints a summary of the dictionary
func (m *MCU) PrintDictionary(w io.Writer) {
	d := m.dictionary
	if d == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}
	fmt.Fprintf(w, "Version: %s\nBuild: %s\n", d.Version, d.BuildVersions)
	for _, section := range []struct {
		title string
		ids   map[string]int
	}{{"Commands", d.Commands}, {"Responses", d.Responses}} {
		formats := make([]string, 0, len(section.ids))
		for format := range section.ids {
			formats = append(formats, format)
		}
		sort.Slice(formats, func(i, j int) bool { return section.ids[formats[i]] < section.ids[formats[j]] })
		fmt.Fprintf(w, "%s (%d):\n", section.title, len(formats))
		for _, format := range formats {
			fmt.Fprintf(w, "  [%d] %s\n", section.ids[format], format)
		}
	}
	names := make([]string, 0, len(d.Enumerations))
	for name := range d.Enumerations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %v\n", name, d.Enum(name))
	}
}

// SendCommand sends a command by name
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	if !m.connected {
		return ErrNotConnected
	}
	if m.dictionary == nil {
		return ErrNoDictionary
	}
	id, ok := m.dictionary.CommandID(name)
	if !ok {
		return errors.Errorf("unknown command: %s", name)
	}
	return errors.Wrap(m.transport.SendCommand(id, args), name)
}

// Query sends a command and waits for the named response.
func (m *MCU) Query(name string, args func(output protocol.OutputBuffer), response string) ([]byte, error) {
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	id, ok := m.dictionary.ResponseID(response)
	if !ok {
		return nil, errors.Errorf("unknown response: %s", response)
	}
	if err := m.SendCommand(name, args); err != nil {
		return nil, err
	}
	payload, err := m.awaitResponse(id)
	return payload, errors.Wrap(err, response)
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}
