// Package config holds the firmware's build-time configuration. The board
// image embeds board.yaml; the emulator may load an override file in the same
// format.
package config

import (
	_ "embed"
	"encoding/json"
	"io"
	"time"

	"github.com/c2h5oh/datasize"
	"sigs.k8s.io/yaml"

	"github.com/wippyai/wasm-firmware/board"
	"github.com/wippyai/wasm-firmware/bridge"
	"github.com/wippyai/wasm-firmware/errors"
	"github.com/wippyai/wasm-firmware/fault"
)

//go:embed board.yaml
var boardYAML []byte

// Config is the complete build configuration.
type Config struct {
	Arena Arena `json:"arena"`
	Guest Guest `json:"guest"`
	Board Board `json:"board"`
	Fault Fault `json:"fault"`
}

// Arena sizes the static memory arena.
type Arena struct {
	Capacity datasize.ByteSize `json:"capacity"`
	Reserve  datasize.ByteSize `json:"reserve"`
}

// Guest describes how the module image is run.
type Guest struct {
	Entry         string `json:"entry"`
	Module        string `json:"module"`
	TrapAddresses bool   `json:"trap_addresses"`
	WASI          bool   `json:"wasi"`
	Imports       int    `json:"imports"`
}

// Board configures the peripherals.
type Board struct {
	DeviceID uint32            `json:"device_id"`
	Tick     Duration          `json:"tick"`
	UARTLog  datasize.ByteSize `json:"uart_log"`
}

// Fault sets the status indicator blink timing.
type Fault struct {
	Pulse Duration `json:"pulse"`
	Gap   Duration `json:"gap"`
}

// Duration is a time.Duration written as "150ms" in configuration files.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(v)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("invalid duration %s", string(b)).
			Build()
	}
	return nil
}

// MarshalJSON writes the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Arena: Arena{Capacity: 256 * datasize.KB},
		Guest: Guest{
			Entry:         "run",
			Module:        "guest",
			TrapAddresses: true,
			Imports:       32,
		},
		Board: Board{
			Tick:    Duration(time.Millisecond),
			UARTLog: 4 * datasize.KB,
		},
		Fault: Fault{
			Pulse: Duration(fault.DefaultTiming.Pulse),
			Gap:   Duration(fault.DefaultTiming.Gap),
		},
	}
}

// Parse reads a YAML configuration over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse board configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Embedded returns the configuration built into the image.
func Embedded() (*Config, error) {
	return Parse(boardYAML)
}

// Validate checks the configuration for values the firmware cannot boot with.
func (c *Config) Validate() error {
	switch {
	case c.Arena.Capacity == 0:
		return invalid("arena capacity must be positive")
	case c.Arena.Reserve > c.Arena.Capacity:
		return invalid("interpreter reserve %s exceeds arena capacity %s",
			c.Arena.Reserve.HumanReadable(), c.Arena.Capacity.HumanReadable())
	case c.Guest.Entry == "":
		return invalid("entry export must be named")
	case c.Guest.Imports <= 0:
		return invalid("host function table must hold at least one entry")
	case c.Board.Tick <= 0:
		return invalid("timer tick must be positive")
	case c.Fault.Pulse <= 0 || c.Fault.Gap <= 0:
		return invalid("blink timing must be positive")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).Detail(format, args...).Build()
}

// Bridge returns the interpreter bridge configuration. region, when non-nil,
// is the statically declared arena storage and overrides the capacity.
func (c *Config) Bridge(region []byte) bridge.Config {
	return bridge.Config{
		Region:           region,
		Capacity:         c.Arena.Capacity.Bytes(),
		RuntimeReserve:   c.Arena.Reserve.Bytes(),
		EntryExport:      c.Guest.Entry,
		ModuleName:       c.Guest.Module,
		TrapAddresses:    c.Guest.TrapAddresses,
		WASI:             c.Guest.WASI,
		RegistryCapacity: c.Guest.Imports,
	}
}

// BoardOptions returns the peripheral options; sink receives UART output.
func (c *Config) BoardOptions(sink io.Writer) board.Options {
	return board.Options{
		UARTSink:   sink,
		UARTLog:    int(c.Board.UARTLog.Bytes()),
		TickPeriod: time.Duration(c.Board.Tick),
		DeviceID:   c.Board.DeviceID,
	}
}

// Timing returns the fault indicator timing.
func (c *Config) Timing() fault.Timing {
	return fault.Timing{Pulse: time.Duration(c.Fault.Pulse), Gap: time.Duration(c.Fault.Gap)}
}
