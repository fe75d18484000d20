package fault

import (
	stderrors "errors"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-firmware/errors"
)

type indicator struct{ states []bool }

func (i *indicator) Set(on bool) { i.states = append(i.states, on) }

type interrupts struct{ disabled int }

func (i *interrupts) Disable() { i.disabled++ }

// parked runs fn on its own goroutine and returns the pattern the policy
// parked with.
func parked(p *Policy, fn func()) []Step {
	var got []Step
	done := make(chan struct{})
	p.Park = func(pattern []Step) {
		got = pattern
		runtime.Goexit()
	}
	go func() {
		defer close(done)
		fn()
	}()
	<-done
	return got
}

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })
	return logs
}

func TestPattern(t *testing.T) {
	timing := Timing{Pulse: 10 * time.Millisecond, Gap: 100 * time.Millisecond}

	for kind := OutOfArena; kind <= Internal; kind++ {
		steps := Pattern(kind, timing)
		pulses := 0
		for _, s := range steps {
			if s.On {
				pulses++
				if s.Duration != timing.Pulse {
					t.Errorf("%s: pulse duration %v", kind, s.Duration)
				}
			}
		}
		if pulses != int(kind) {
			t.Errorf("%s: %d pulses, want %d", kind, pulses, kind)
		}
		if last := steps[len(steps)-1]; last.On || last.Duration != timing.Gap {
			t.Errorf("%s: pattern must end with the gap, got %+v", kind, last)
		}
	}

	hb := Pattern(None, Timing{})
	if len(hb) != 2 || !hb[0].On || hb[1].Duration != 2*DefaultTiming.Gap {
		t.Errorf("heartbeat = %+v", hb)
	}
}

func TestOnFault(t *testing.T) {
	logs := observe(t)
	ind := &indicator{}
	irq := &interrupts{}
	var notified Record
	p := &Policy{
		Indicator:  ind,
		Interrupts: irq,
		Mailbox:    make([]byte, MailboxSize),
		Notify:     func(r Record) { notified = r },
	}

	err := errors.New(errors.PhaseRun, errors.KindTrap).
		Trap(errors.TrapOutOfBounds).
		Address(0x10010).
		Build()
	pattern := parked(p, func() { p.OnFault(FromError(err)) })

	if len(pattern) != 2*int(Trap)+1 {
		t.Errorf("pattern has %d steps", len(pattern))
	}
	if irq.disabled != 1 {
		t.Errorf("interrupts disabled %d times", irq.disabled)
	}
	if !p.Latched() {
		t.Error("policy must latch")
	}
	if notified.Kind != Trap {
		t.Errorf("notified %v", notified)
	}

	m, ok := DecodeMailbox(p.Mailbox)
	if !ok {
		t.Fatal("mailbox not written")
	}
	if m.Kind != Trap || m.Trap != errors.TrapOutOfBounds || !m.HasAddress || m.Address != 0x10010 || m.Double {
		t.Errorf("mailbox = %+v", m)
	}

	entries := logs.FilterMessage("fatal fault").All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("log entries = %+v", entries)
	}
	if entries[0].ContextMap()["address"] != uint64(0x10010) {
		t.Errorf("logged address = %v", entries[0].ContextMap()["address"])
	}
}

func TestOnFault_DoubleFault(t *testing.T) {
	observe(t)
	p := &Policy{Mailbox: make([]byte, MailboxSize)}

	parked(p, func() { p.OnFault(Record{Kind: Unresolved}) })
	pattern := parked(p, func() { p.OnFault(Record{Kind: HostPanic}) })

	if len(pattern) != 1 || !pattern[0].On {
		t.Errorf("double fault pattern = %+v", pattern)
	}
	m, _ := DecodeMailbox(p.Mailbox)
	if !m.Double || m.Kind != HostPanic {
		t.Errorf("mailbox = %+v", m)
	}
}

func TestHalt(t *testing.T) {
	logs := observe(t)
	irq := &interrupts{}
	p := &Policy{Interrupts: irq, Mailbox: make([]byte, MailboxSize)}

	pattern := parked(p, func() { p.Halt([]uint64{42}) })
	if len(pattern) != 2 {
		t.Errorf("halt pattern = %+v", pattern)
	}
	if irq.disabled != 1 {
		t.Error("halt must disable interrupts")
	}
	if _, ok := DecodeMailbox(p.Mailbox); ok {
		t.Error("clean halt must not write the fault mailbox")
	}
	if logs.FilterMessage("halted").Len() != 1 {
		t.Error("halt not logged")
	}
}

func TestGuard(t *testing.T) {
	observe(t)

	tests := []struct {
		name    string
		value   any
		kind    Kind
		address uint64
	}{
		{"string", "boom", HostPanic, 0},
		{"plain error", stderrors.New("nil map"), HostPanic, 0},
		{"host trap", errors.OutOfBounds(errors.PhaseHost, 0x2000, 4, 0x1000), Trap, 0x2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Record
			p := &Policy{Notify: func(r Record) { got = r }}
			parked(p, func() {
				defer p.Guard()
				panic(tt.value)
			})
			if got.Kind != tt.kind || got.Address != tt.address {
				t.Errorf("record = %v", got)
			}
		})
	}
}

func TestGuard_NoPanic(t *testing.T) {
	p := &Policy{}
	func() {
		defer p.Guard()
	}()
	if p.Latched() {
		t.Error("Guard without panic must not latch")
	}
}

func TestBlink(t *testing.T) {
	ind := &indicator{}
	var slept []time.Duration
	p := &Policy{
		Indicator: ind,
		Sleep: func(d time.Duration) {
			slept = append(slept, d)
			if len(slept) == 10 {
				runtime.Goexit()
			}
		},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.OnFault(Record{Kind: DuplicateImport})
	}()
	<-done

	// two pulses and a gap is five steps per period
	want := []bool{true, false, true, false, false, true, false, true, false, false}
	if len(ind.states) != len(want) {
		t.Fatalf("states = %v", ind.states)
	}
	for i := range want {
		if ind.states[i] != want[i] {
			t.Fatalf("states = %v, want %v", ind.states, want)
		}
	}
	if slept[4] != DefaultTiming.Gap {
		t.Errorf("gap = %v", slept[4])
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		addr bool
	}{
		{"nil", nil, Internal, false},
		{"foreign", stderrors.New("x"), Internal, false},
		{"out of arena", errors.OutOfArena(errors.PhaseArena, 10, 1, 5), OutOfArena, false},
		{"duplicate", errors.DuplicateImport("env", "f"), DuplicateImport, false},
		{"unresolved", errors.Unresolved("env", "f"), Unresolved, false},
		{"mismatch", errors.SignatureMismatch("env", "f", "()", "(i32)"), SignatureMismatch, false},
		{"malformed", errors.MalformedModule(nil), MalformedModule, false},
		{"instantiation", errors.Instantiation("x", errors.OutOfArena(errors.PhaseInstantiate, 1, 1, 0)), InstantiationFailed, false},
		{"trap with address", errors.OutOfBounds(errors.PhaseRun, 9, 1, 4), Trap, true},
		{"hardware", errors.HardwareException("clock", nil), HardwareException, false},
		{"support kind", errors.InvalidState(errors.PhaseRun, "halted", "run"), Internal, false},
		{"wrapped trap", errors.Wrap(errors.PhaseRun, errors.KindHostPanic, errors.OutOfBounds(errors.PhaseHost, 7, 1, 0), "x"), HostPanic, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := FromError(tt.err)
			if r.Kind != tt.kind || r.HasAddress != tt.addr {
				t.Errorf("record = %v (has address %v)", r, r.HasAddress)
			}
		})
	}
}

func TestMailbox(t *testing.T) {
	buf := make([]byte, MailboxSize)
	in := Mailbox{Kind: Trap, Trap: errors.TrapAbort, Address: 1 << 40, HasAddress: true, Double: true}
	in.Encode(buf)
	out, ok := DecodeMailbox(buf)
	if !ok || out != in {
		t.Errorf("decoded %+v, want %+v", out, in)
	}

	if _, ok := DecodeMailbox(buf[:8]); ok {
		t.Error("short mailbox must not decode")
	}
	if _, ok := DecodeMailbox(make([]byte, MailboxSize)); ok {
		t.Error("mailbox without magic must not decode")
	}
}

func TestKindString(t *testing.T) {
	if Trap.String() != "trap" || Kind(200).String() != "kind(200)" {
		t.Error("unexpected kind names")
	}
	r := Record{Kind: Trap, Trap: errors.TrapOutOfBounds, Phase: errors.PhaseRun, Address: 16, HasAddress: true}
	if r.String() != "trap/out_of_bounds in run at 0x10" {
		t.Errorf("String = %q", r.String())
	}
}
