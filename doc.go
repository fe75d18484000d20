// Package wasmfirmware runs a WebAssembly module as the application of a
// bare-metal firmware image, using wazero's interpreter.
//
// # Architecture Overview
//
//	wasmfirmware/
//	├── arena/          Static memory arena and the guest memory allocator
//	├── host/           Frozen host function registry and guest memory access
//	├── image/          Core module inspection, trap-address instrumentation, builder
//	├── bridge/         Interpreter lifecycle state machine
//	├── fault/          Fault records, blink patterns, mailbox and halt policy
//	├── board/          Emulated peripherals and the "env" host namespace
//	├── boot/           Reset entry and boot sequencer
//	├── config/         Build-time board configuration
//	├── guest/          Bundled default application
//	├── errors/         Structured errors by phase and kind
//	└── cmd/
//	    ├── firmware/   Reset vector
//	    └── emulator/   Host-side runner with an optional TUI
//
// # Boot Sequence
//
// The reset entry brings up the board, then drives the bridge through
//
//	uninitialized → arena_ready → registry_ready → module_loaded →
//	instantiated → running → halted | trapped
//
// Every failure becomes a fault.Record handed to the fault policy, which
// writes the mailbox, masks interrupts and blinks the status LED forever. A
// clean return parks on the slow heartbeat instead.
//
//	b := board.New(cfg.BoardOptions(os.Stdout))
//	seq := &boot.Sequencer{
//	    Platform: b,
//	    Policy:   b.Policy(cfg.Timing()),
//	    Image:    guest.Heartbeat,
//	    Hosts:    []host.Host{b.Env()},
//	    Bridge:   cfg.Bridge(arena[:]),
//	}
//	seq.Reset(ctx) // never returns
//
// # Memory Model
//
// All guest linear memory is carved from one arena sized at build time.
// Allocations are never freed; memory.grow past the arena traps the guest
// with out_of_arena instead of reaching the Go heap.
package wasmfirmware
