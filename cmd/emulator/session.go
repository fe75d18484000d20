package main

import (
	"context"
	"io"
	"runtime"
	"sync"

	"github.com/wippyai/wasm-firmware/board"
	"github.com/wippyai/wasm-firmware/boot"
	"github.com/wippyai/wasm-firmware/bridge"
	"github.com/wippyai/wasm-firmware/config"
	"github.com/wippyai/wasm-firmware/fault"
	"github.com/wippyai/wasm-firmware/host"
)

// session is one power-on of the emulated board, from reset until the fault
// policy parks.
type session struct {
	board       *board.Board
	seq         *boot.Sequencer
	cancel      context.CancelFunc
	record      fault.Record
	pattern     []fault.Step
	transitions []bridge.Transition
	mailbox     fault.Mailbox
	hasMailbox  bool
}

// powerOn resets a fresh board and runs the image until the policy takes
// over. The emulated park loop returns the pattern instead of blinking.
func powerOn(cfg *config.Config, image []byte, uart io.Writer) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{cancel: cancel}

	s.board = board.New(cfg.BoardOptions(uart))
	var mu sync.Mutex
	bc := cfg.Bridge(nil)
	bc.Observer = func(t bridge.Transition) {
		mu.Lock()
		s.transitions = append(s.transitions, t)
		mu.Unlock()
	}

	policy := s.board.Policy(cfg.Timing())
	policy.Notify = func(r fault.Record) { s.record = r }
	parked := make(chan []fault.Step, 1)
	policy.Park = func(pattern []fault.Step) {
		parked <- pattern
		runtime.Goexit()
	}

	s.seq = &boot.Sequencer{
		Platform: s.board,
		Policy:   policy,
		Image:    image,
		Hosts:    []host.Host{s.board.Env()},
		Bridge:   bc,
	}
	go s.seq.Reset(ctx)

	s.pattern = <-parked
	s.mailbox, s.hasMailbox = fault.DecodeMailbox(s.board.Mailbox)
	return s
}

// halted reports whether the run ended cleanly.
func (s *session) halted() bool {
	return s.record.Kind == fault.None && !s.hasMailbox
}

// off stops the board timer and releases the interpreter.
func (s *session) off() {
	s.cancel()
	s.seq.Close(context.Background())
}
