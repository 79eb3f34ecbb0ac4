package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"testing"
)

func TestDictionaryJSON(t *testing.T) {
	dict := NewDictionary(NewCommandRegistry())
	dict.AddConstant("MCU", "rp2040")
	dict.AddConstant("CLOCK_FREQ", uint32(DefaultClockFreq))
	dict.AddEnumeration("scc_state", []string{"idle", "", "align"})
	dict.commandReg.Register("identify_response", "offset=%u data=%*s", nil)
	dict.commandReg.Register("identify", "offset=%u count=%c", func(data *[]byte) error { return nil })

	var parsed struct {
		Version      string                    `json:"version"`
		Config       map[string]string         `json:"config"`
		Commands     map[string]int            `json:"commands"`
		Responses    map[string]int            `json:"responses"`
		Enumerations map[string]map[string]int `json:"enumerations"`
	}
	if err := json.Unmarshal(dict.Generate(), &parsed); err != nil {
		t.Fatalf("Dictionary is not valid JSON: %v", err)
	}
	if parsed.Version != "motorprofiler-0.1.0" {
		t.Errorf("Expected version motorprofiler-0.1.0, got %q", parsed.Version)
	}
	if parsed.Config["CLOCK_FREQ"] != "1000000" || parsed.Config["MCU"] != "rp2040" {
		t.Errorf("Unexpected constants %v", parsed.Config)
	}
	if parsed.Commands["identify offset=%u count=%c"] != 1 {
		t.Errorf("Expected identify at 1, got %v", parsed.Commands)
	}
	if parsed.Responses["identify_response offset=%u data=%*s"] != 0 {
		t.Errorf("Expected identify_response at 0, got %v", parsed.Responses)
	}
	states := parsed.Enumerations["scc_state"]
	if len(states) != 2 || states["align"] != 2 {
		t.Errorf("Expected gaps skipped in enumeration, got %v", states)
	}
}

func TestDictionaryCompressedChunks(t *testing.T) {
	dict := NewDictionary(NewCommandRegistry())
	dict.commandReg.Register("get_clock", "", func(data *[]byte) error { return nil })
	plain := append([]byte(nil), dict.Generate()...)

	dict.BuildDictionary()
	var compressed []byte
	for offset := uint32(0); ; offset += 40 {
		chunk := dict.GetChunk(offset, 40)
		if len(chunk) == 0 {
			break
		}
		compressed = append(compressed, chunk...)
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("Expected a zlib stream: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Expected %s, got %s", plain, got)
	}

	dict.AddConstant("X", 1)
	if bytes.Equal(dict.Generate(), compressed) {
		t.Error("Expected the cache dropped after a change")
	}
}
