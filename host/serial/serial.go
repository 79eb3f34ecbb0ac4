package serial

import (
	"io"

	"motorprofiler/profiler/config"
)

// Port is the link to the board: a tarm/serial device, or a pipe in tests.
type Port interface {
	io.ReadWriteCloser
	// Flush drops input not read yet.
	Flush() error
}

type Config struct {
	Device      string // e.g. /dev/ttyACM0 or COM3
	Baud        int    // ignored by USB CDC
	ReadTimeout int    // ms, 0 blocks
}

// DefaultConfig returns the settings the profiler firmware expects
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100,
	}
}

// FromHostConfig builds a port configuration from the host section of a
// profiler configuration.
func FromHostConfig(h config.HostConfig) *Config {
	cfg := DefaultConfig(h.SerialDevice)
	if h.Baud > 0 {
		cfg.Baud = h.Baud
	}
	return cfg
}
