// Package guest bundles the default firmware application.
package guest

import _ "embed"

//go:generate go run gen.go

// Heartbeat is the bundled guest. It prints Banner over uart_write, then
// toggles the LED and transmits a heartbeat Beats times, and returns Beats
// from its Entry export.
//
//go:embed heartbeat.wasm
var Heartbeat []byte

const (
	Entry  = "run"
	Memory = "memory"
	Banner = "wasm firmware up"
	Beats  = 3
)

// Imports lists the env functions the bundled guest needs.
var Imports = []string{"env.uart_write", "env.led_set", "env.heartbeat"}
