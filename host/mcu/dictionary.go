package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Dictionary represents the parsed MCU dictionary. Commands and Responses
// are keyed by their full format string, "name arg=%u ...".
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	commandIDs  map[string]uint16
	responseIDs map[string]uint16
	responseFmt map[uint16]string
}

// ParseDictionary decodes dictionary data as downloaded with identify. The
// firmware sends a zlib stream; plain JSON is accepted too.
func ParseDictionary(data []byte) (*Dictionary, error) {
	if isZlib(data) {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "dictionary zlib header")
		}
		plain, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, "dictionary decompression")
		}
		data = plain
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal dictionary JSON")
	}
	dict.index()
	return dict, nil
}

// isZlib checks the two byte zlib header: deflate method and a valid check.
func isZlib(data []byte) bool {
	return len(data) >= 2 && data[0]&0x0F == 8 && (uint16(data[0])<<8|uint16(data[1]))%31 == 0
}

func (d *Dictionary) index() {
	d.commandIDs = make(map[string]uint16, len(d.Commands))
	for format, id := range d.Commands {
		d.commandIDs[messageName(format)] = uint16(id)
	}
	d.responseIDs = make(map[string]uint16, len(d.Responses))
	d.responseFmt = make(map[uint16]string, len(d.Responses))
	for format, id := range d.Responses {
		d.responseIDs[messageName(format)] = uint16(id)
		d.responseFmt[uint16(id)] = format
	}
}

func messageName(format string) string {
	name, _, _ := strings.Cut(format, " ")
	return name
}

// CommandID looks up a command by name.
func (d *Dictionary) CommandID(name string) (uint16, bool) {
	id, ok := d.commandIDs[name]
	return id, ok
}

// ResponseID looks up a response by name.
func (d *Dictionary) ResponseID(name string) (uint16, bool) {
	id, ok := d.responseIDs[name]
	return id, ok
}

// ResponseName returns the name of response id, or "" if unknown.
func (d *Dictionary) ResponseName(id uint16) string {
	return messageName(d.responseFmt[id])
}

// Enum returns the names of an enumeration indexed by value.
func (d *Dictionary) Enum(name string) []string {
	values := d.Enumerations[name]
	n := 0
	for _, v := range values {
		n = max(n, v+1)
	}
	out := make([]string, n)
	for s, v := range values {
		if v >= 0 {
			out[v] = s
		}
	}
	return out
}
