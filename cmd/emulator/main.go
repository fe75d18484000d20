// Command emulator runs a firmware image against emulated board peripherals.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-firmware/board"
	"github.com/wippyai/wasm-firmware/boot"
	"github.com/wippyai/wasm-firmware/bridge"
	"github.com/wippyai/wasm-firmware/config"
	"github.com/wippyai/wasm-firmware/fault"
	"github.com/wippyai/wasm-firmware/guest"
	"github.com/wippyai/wasm-firmware/host"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to guest wasm file (default: bundled heartbeat guest)")
		configFile  = flag.String("config", "", "Board configuration YAML (default: embedded board.yaml)")
		entry       = flag.String("entry", "", "Entry export override")
		verbose     = flag.Bool("v", false, "Log boot sequence to stderr")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	cfg, image, err := load(*wasmFile, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *entry != "" {
		cfg.Guest.Entry = *entry
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg, image, *wasmFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	setLoggers(logger)
	code := run(cfg, image)
	_ = logger.Sync()
	os.Exit(code)
}

func load(wasmFile, configFile string) (*config.Config, []byte, error) {
	cfg, err := config.Embedded()
	if configFile != "" {
		var data []byte
		if data, err = os.ReadFile(configFile); err != nil {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
		cfg, err = config.Parse(data)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	image := guest.Heartbeat
	if wasmFile != "" {
		if image, err = os.ReadFile(wasmFile); err != nil {
			return nil, nil, fmt.Errorf("read file: %w", err)
		}
	}
	return cfg, image, nil
}

// run boots the image once, with UART output on stdout, and returns the
// process exit code: 0 after a clean halt, otherwise the fault's blink count.
func run(cfg *config.Config, image []byte) int {
	s := powerOn(cfg, image, os.Stdout)
	defer s.off()

	fmt.Println()
	fmt.Println("--- boot ---")
	for _, t := range s.transitions {
		line := fmt.Sprintf("%s -> %s", t.From, t.To)
		if t.Err != nil {
			line += ": " + t.Err.Error()
		}
		fmt.Println(line)
	}

	fmt.Println("--- outcome ---")
	if s.halted() {
		fmt.Printf("halted, uptime %v\n", s.board.Clock.Uptime())
		fmt.Printf("indicator: %s\n", patternString(s.pattern))
		return 0
	}
	fmt.Printf("fault: %s\n", s.record)
	if s.record.Detail != "" {
		fmt.Printf("detail: %s\n", s.record.Detail)
	}
	if s.hasMailbox {
		fmt.Printf("mailbox: %s\n", mailboxString(s.mailbox))
	}
	fmt.Printf("indicator: %s\n", patternString(s.pattern))
	return int(s.record.Kind)
}

// patternString draws one period of a blink pattern, one character per
// pulse-length slot.
func patternString(pattern []fault.Step) string {
	var b strings.Builder
	for _, s := range pattern {
		mark := "_"
		if s.On {
			mark = "#"
		}
		if s.Duration >= fault.DefaultTiming.Gap {
			mark = strings.Repeat(mark, 3)
		}
		b.WriteString(mark)
	}
	return b.String()
}

func mailboxString(m fault.Mailbox) string {
	s := fmt.Sprintf("kind=%s trap=%s", m.Kind, m.Trap)
	if m.HasAddress {
		s += fmt.Sprintf(" addr=%#x", m.Address)
	}
	if m.Double {
		s += " double"
	}
	return s
}

func setLoggers(l *zap.Logger) {
	board.SetLogger(l.Named("board"))
	boot.SetLogger(l.Named("boot"))
	bridge.SetLogger(l.Named("bridge"))
	fault.SetLogger(l.Named("fault"))
	host.SetLogger(l.Named("host"))
}
