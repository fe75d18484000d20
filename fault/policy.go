package fault

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Indicator is the status output the park loop blinks.
type Indicator interface {
	Set(on bool)
}

// Interrupts masks interrupt delivery before the policy parks.
type Interrupts interface {
	Disable()
}

// Policy is the firmware's terminal sink. Every fatal error ends in OnFault
// and every clean run ends in Halt; neither returns.
type Policy struct {
	// Indicator shows the blink pattern. Optional.
	Indicator Indicator

	// Interrupts is disabled before parking. Optional.
	Interrupts Interrupts

	// Mailbox is the memory a debugger reads the fault summary from. It must
	// hold MailboxSize bytes when set.
	Mailbox []byte

	// Timing sets the blink pattern durations.
	Timing Timing

	// Sleep waits between pattern steps. Defaults to time.Sleep.
	Sleep func(time.Duration)

	// Park is the final loop. It receives one period of the pattern and must
	// not return. Defaults to replaying the pattern on Indicator forever.
	Park func(pattern []Step)

	// Notify, when set, observes the record after the mailbox is written.
	Notify func(Record)

	latched atomic.Bool
}

// OnFault handles a terminal fault and parks. A fault raised while an
// earlier one is being handled is a double fault: it is recorded in the
// mailbox and the policy parks at once with a solid indicator.
func (p *Policy) OnFault(r Record) {
	if !p.latched.CompareAndSwap(false, true) {
		p.writeMailbox(r, true)
		p.disableInterrupts()
		p.park(doubleFaultPattern)
		return
	}

	Logger().Error("fatal fault",
		zap.Stringer("kind", r.Kind),
		zap.String("phase", string(r.Phase)),
		zap.String("trap", string(r.Trap)),
		zap.Uint64("address", r.Address),
		zap.Bool("has_address", r.HasAddress),
		zap.String("detail", r.Detail),
		zap.Error(r.Err))

	p.writeMailbox(r, false)
	p.disableInterrupts()
	if p.Notify != nil {
		p.Notify(r)
	}
	p.park(Pattern(r.Kind, p.Timing))
}

// Halt parks after a clean run, showing the slow heartbeat.
func (p *Policy) Halt(results []uint64) {
	if !p.latched.CompareAndSwap(false, true) {
		p.park(doubleFaultPattern)
		return
	}

	Logger().Info("halted", zap.Uint64s("results", results))
	p.disableInterrupts()
	if p.Notify != nil {
		p.Notify(Record{Kind: None})
	}
	p.park(Pattern(None, p.Timing))
}

// Guard converts an unhandled panic into a fault. Defer it at the top of the
// reset entry.
func (p *Policy) Guard() {
	if v := recover(); v != nil {
		p.OnFault(FromPanic(v))
	}
}

// Latched reports whether the policy has taken over.
func (p *Policy) Latched() bool {
	return p.latched.Load()
}

func (p *Policy) writeMailbox(r Record, double bool) {
	if len(p.Mailbox) < MailboxSize {
		return
	}
	mailboxFor(r, double).Encode(p.Mailbox)
}

func (p *Policy) disableInterrupts() {
	if p.Interrupts != nil {
		p.Interrupts.Disable()
	}
}

func (p *Policy) park(pattern []Step) {
	if p.Park != nil {
		p.Park(pattern)
	}
	p.blink(pattern)
}

// blink replays pattern forever.
func (p *Policy) blink(pattern []Step) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	for {
		for _, s := range pattern {
			if p.Indicator != nil {
				p.Indicator.Set(s.On)
			}
			sleep(s.Duration)
		}
	}
}
