package board

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-firmware/errors"
	"github.com/wippyai/wasm-firmware/fault"
)

// Options configures the emulated board.
type Options struct {
	// UARTSink receives everything written to the UART. Optional.
	UARTSink io.Writer

	// UARTLog is the transmit log size in bytes.
	UARTLog int

	// TickPeriod is the timer interrupt period.
	TickPeriod time.Duration

	// ManualTick leaves the timer stopped; ticks come from Raise(IRQTimer).
	ManualTick bool

	// DeviceID is reported to the guest and in heartbeats.
	DeviceID uint32
}

// Board is the set of peripherals the firmware drives.
type Board struct {
	UART       *UART
	LED        *LED
	Clock      *Clock
	Interrupts *Interrupts

	// Mailbox is the memory a debugger reads the fault summary from.
	Mailbox []byte

	opts Options
}

// New creates a board in its reset state: interrupts masked, timer stopped.
func New(opts Options) *Board {
	return &Board{
		UART:       NewUART(opts.UARTLog, opts.UARTSink),
		LED:        &LED{},
		Clock:      NewClock(opts.TickPeriod),
		Interrupts: &Interrupts{},
		Mailbox:    make([]byte, fault.MailboxSize),
		opts:       opts,
	}
}

// DeviceID returns the board's device identifier.
func (b *Board) DeviceID() uint32 { return b.opts.DeviceID }

// Init brings up the clock and the interrupt controller. The timer runs until
// ctx is done.
func (b *Board) Init(ctx context.Context) error {
	if b.opts.TickPeriod <= 0 {
		return errors.HardwareException("timer period must be positive", nil)
	}

	b.Interrupts.Handle(IRQTimer, b.Clock.Tick)
	b.Interrupts.Enable()

	if !b.opts.ManualTick {
		go b.timer(ctx)
	}
	Logger().Info("board ready",
		zap.Uint32("device_id", b.opts.DeviceID),
		zap.Duration("tick", b.opts.TickPeriod))
	return nil
}

func (b *Board) timer(ctx context.Context) {
	t := time.NewTicker(b.opts.TickPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.Interrupts.Raise(IRQTimer)
		}
	}
}

// Policy returns a fault policy wired to the board's LED, interrupt
// controller and mailbox.
func (b *Board) Policy(timing fault.Timing) *fault.Policy {
	return &fault.Policy{
		Indicator:  b.LED,
		Interrupts: b.Interrupts,
		Mailbox:    b.Mailbox,
		Timing:     timing,
	}
}
