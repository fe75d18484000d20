package board

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-firmware/bridge"
	"github.com/wippyai/wasm-firmware/errors"
	"github.com/wippyai/wasm-firmware/fault"
	"github.com/wippyai/wasm-firmware/image"
)

func TestUART(t *testing.T) {
	var sink bytes.Buffer
	u := NewUART(8, &sink)

	if _, err := u.Write([]byte("ab\n")); err != nil {
		t.Fatal(err)
	}
	if got := string(u.Bytes()); got != "ab\n" {
		t.Errorf("Bytes = %q", got)
	}
	if lines := u.Lines(); len(lines) != 1 || lines[0] != "ab" {
		t.Errorf("Lines = %q", lines)
	}

	u.Write([]byte("cdef\ngh"))
	if got := string(u.Bytes()); got != "\ncdef\ngh" {
		t.Errorf("after wrap Bytes = %q", got)
	}
	if lines := u.Lines(); len(lines) != 2 || lines[0] != "cdef" || lines[1] != "gh" {
		t.Errorf("after wrap Lines = %q", lines)
	}

	u.Write([]byte("0123456789"))
	if got := string(u.Bytes()); got != "23456789" {
		t.Errorf("oversized write Bytes = %q", got)
	}
	if u.Total() != 20 {
		t.Errorf("Total = %d", u.Total())
	}
	if sink.String() != "ab\ncdef\ngh0123456789" {
		t.Errorf("sink = %q", sink.String())
	}
}

func TestLED(t *testing.T) {
	var seen []bool
	l := &LED{Watch: func(on bool) { seen = append(seen, on) }}
	l.Set(true)
	l.Set(true)
	l.Set(false)
	if l.On() || l.Changes() != 2 || len(seen) != 2 {
		t.Errorf("on=%v changes=%d seen=%v", l.On(), l.Changes(), seen)
	}
}

func TestInterrupts(t *testing.T) {
	var c Interrupts
	ticks := 0
	c.Handle(IRQTimer, func() { ticks++ })

	if c.Raise(IRQTimer) {
		t.Error("masked interrupt must not run")
	}
	c.Raise(IRQTimer)
	c.Enable()
	if ticks != 1 {
		t.Errorf("pending delivered %d times, want 1", ticks)
	}
	if !c.Raise(IRQTimer) || ticks != 2 {
		t.Errorf("enabled raise: ticks = %d", ticks)
	}
	if c.Raise(IRQUART) {
		t.Error("line without handler must not run")
	}
	c.Disable()
	if c.Enabled() || c.Raise(IRQTimer) {
		t.Error("Disable must mask")
	}
	if c.Count(IRQTimer) != 2 {
		t.Errorf("Count = %d", c.Count(IRQTimer))
	}
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	b := New(Options{})
	if err := b.Init(ctx); !errors.IsKind(err, errors.KindHardwareException) {
		t.Errorf("zero tick period: %v", err)
	}

	b = New(Options{TickPeriod: 10 * time.Millisecond, ManualTick: true})
	if err := b.Init(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		b.Interrupts.Raise(IRQTimer)
	}
	if b.Clock.Uptime() != 50*time.Millisecond {
		t.Errorf("uptime = %v", b.Clock.Uptime())
	}
}

func TestInit_Timer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(Options{TickPeriod: time.Millisecond})
	if err := b.Init(ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for b.Clock.Uptime() < 3*time.Millisecond {
		if time.Now().After(deadline) {
			t.Fatal("timer never ticked")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPolicyWiring(t *testing.T) {
	b := New(Options{TickPeriod: time.Millisecond})
	p := b.Policy(fault.DefaultTiming)
	if p.Indicator != b.LED || p.Interrupts != b.Interrupts || len(p.Mailbox) == 0 {
		t.Error("policy not wired to board peripherals")
	}
}

// run executes a guest against the board's env namespace.
func run(t *testing.T, b *Board, img []byte) *bridge.Bridge {
	t.Helper()
	ctx := context.Background()
	br := bridge.New(bridge.Config{Capacity: 128 * 1024, TrapAddresses: true})
	t.Cleanup(func() { br.Close(ctx) })

	steps := []func() error{
		func() error { return br.InitArena(ctx) },
		func() error { return br.RegisterHost(b.Env()) },
		br.FreezeRegistry,
		func() error { return br.Load(ctx, img) },
		func() error { return br.Instantiate(ctx) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}
	br.Run(ctx)
	return br
}

func TestEnv(t *testing.T) {
	b := New(Options{TickPeriod: time.Second, ManualTick: true, DeviceID: 0x12345678})
	if err := b.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		b.Interrupts.Raise(IRQTimer)
	}

	mb := image.NewBuilder()
	write := mb.ImportFunc(EnvNamespace, "uart_write", image.Sig([]image.ValType{image.I32, image.I32}, image.I32))
	led := mb.ImportFunc(EnvNamespace, "led_set", image.Sig([]image.ValType{image.I32}))
	uptime := mb.ImportFunc(EnvNamespace, "uptime_ms", image.Sig(nil, image.I64))
	id := mb.ImportFunc(EnvNamespace, "device_id", image.Sig(nil, image.I32))
	hb := mb.ImportFunc(EnvNamespace, "heartbeat", image.Sig(nil, image.I32))
	mb.Memory(1, 1)
	mb.Data(64, []byte("boot\n"))
	f := mb.Func(image.Sig(nil, image.I64), nil, image.Body(
		image.I32Const(64), image.I32Const(5), image.Call(write), image.Op(image.OpDrop),
		image.I32Const(1), image.Call(led),
		image.Call(hb), image.Op(image.OpDrop),
		image.Call(id), image.Op(image.OpDrop),
		image.Call(uptime),
	))
	mb.ExportFunc("run", f)

	br := run(t, b, mb.Bytes())
	if br.State() != bridge.Halted {
		t.Fatalf("state = %s: %v", br.State(), br.Fault())
	}
	if res := br.Results(); res[0] != 7000 {
		t.Errorf("uptime_ms = %d", res[0])
	}
	if !b.LED.On() {
		t.Error("led_set(1) did not light the LED")
	}

	lines := b.UART.Lines()
	if len(lines) != 2 || lines[0] != "boot" {
		t.Fatalf("uart = %q", lines)
	}
	var got Heartbeat
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatal(err)
	}
	want := Heartbeat{Source: "firmware", DeviceID: 0x12345678, Uptime: 7, Status: 1, MemoryUsed: 65536}
	if got != want {
		t.Errorf("heartbeat = %+v, want %+v", got, want)
	}
}

type brokenSink struct{}

func (brokenSink) Write([]byte) (int, error) { return 0, stderrors.New("line down") }

func TestEnv_SinkError(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })

	b := New(Options{TickPeriod: time.Second, ManualTick: true, UARTSink: brokenSink{}})
	mb := image.NewBuilder()
	write := mb.ImportFunc(EnvNamespace, "uart_write", image.Sig([]image.ValType{image.I32, image.I32}, image.I32))
	hb := mb.ImportFunc(EnvNamespace, "heartbeat", image.Sig(nil, image.I32))
	mb.Memory(1, 1)
	mb.Data(64, []byte("boot\n"))
	f := mb.Func(image.Sig(nil, image.I32), nil, image.Body(
		image.I32Const(64), image.I32Const(5), image.Call(write), image.Op(image.OpDrop),
		image.Call(hb),
	))
	mb.ExportFunc("run", f)

	br := run(t, b, mb.Bytes())
	if br.State() != bridge.Halted {
		t.Fatalf("state = %s: %v", br.State(), br.Fault())
	}
	if res := br.Results(); res[0] != 0 {
		t.Errorf("heartbeat written = %d, want 0", res[0])
	}
	if n := logs.FilterMessage("uart sink write failed").Len(); n != 2 {
		t.Errorf("sink failures logged = %d, want 2", n)
	}
	if lines := b.UART.Lines(); len(lines) != 2 || lines[0] != "boot" {
		t.Errorf("uart log = %q", lines)
	}
}

func TestEnv_UARTWriteOutOfBounds(t *testing.T) {
	b := New(Options{TickPeriod: time.Second, ManualTick: true})
	mb := image.NewBuilder()
	write := mb.ImportFunc(EnvNamespace, "uart_write", image.Sig([]image.ValType{image.I32, image.I32}, image.I32))
	mb.Memory(1, 1)
	f := mb.Func(image.Sig(nil), nil, image.Body(
		image.I32Const(65000), image.I32Const(1000), image.Call(write), image.Op(image.OpDrop),
	))
	mb.ExportFunc("run", f)

	br := run(t, b, mb.Bytes())
	var e *errors.Error
	if br.State() != bridge.Trapped || !asError(br.Fault(), &e) {
		t.Fatalf("state = %s, fault = %v", br.State(), br.Fault())
	}
	if addr, ok := e.Address(); e.Trap != errors.TrapOutOfBounds || !ok || addr != 65000 {
		t.Errorf("fault = %v", e)
	}
	if b.UART.Total() != 0 {
		t.Error("rejected write must not reach the UART")
	}
}

func TestEnv_Abort(t *testing.T) {
	b := New(Options{TickPeriod: time.Second, ManualTick: true})

	// "oops" as a length-prefixed UTF-16 string at 104
	msg := []byte{8, 0, 0, 0, 'o', 0, 'o', 0, 'p', 0, 's', 0}
	mb := image.NewBuilder()
	abort := mb.ImportFunc(EnvNamespace, "abort", image.Sig([]image.ValType{image.I32, image.I32, image.I32, image.I32}))
	mb.Memory(1, 1)
	mb.Data(100, msg)
	f := mb.Func(image.Sig(nil), nil, image.Body(
		image.I32Const(104), image.I32Const(0), image.I32Const(12), image.I32Const(3), image.Call(abort),
	))
	mb.ExportFunc("run", f)

	br := run(t, b, mb.Bytes())
	var e *errors.Error
	if br.State() != bridge.Trapped || !asError(br.Fault(), &e) {
		t.Fatalf("state = %s, fault = %v", br.State(), br.Fault())
	}
	if e.Trap != errors.TrapAbort || !strings.Contains(e.Detail, `"oops"`) || !strings.Contains(e.Detail, ":12:3") {
		t.Errorf("fault = %v", e)
	}
}

func asError(err error, target **errors.Error) bool {
	e, ok := err.(*errors.Error)
	*target = e
	return ok
}
