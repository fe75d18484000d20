package board

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"unicode/utf16"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-firmware/errors"
	"github.com/wippyai/wasm-firmware/host"
)

// EnvNamespace is the import namespace of the board's host functions.
const EnvNamespace = "env"

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// Heartbeat is the status line the guest asks the board to transmit.
type Heartbeat struct {
	Source     string `json:"source"`
	DeviceID   uint32 `json:"device_id"`
	Uptime     uint64 `json:"uptime"`
	Status     uint32 `json:"status"`
	MemoryUsed uint32 `json:"memory_used"`
	ErrorCode  uint32 `json:"error_code"`
}

// Env exposes the board to the guest as the "env" import namespace.
type Env struct {
	board *Board
}

// Env returns the board's host function set.
func (b *Board) Env() *Env { return &Env{board: b} }

// Namespace implements host.Host.
func (e *Env) Namespace() string { return EnvNamespace }

// Functions implements host.Host.
func (e *Env) Functions() []host.Function {
	return []host.Function{
		{Name: "uart_write", Signature: host.Sig([]api.ValueType{i32, i32}, i32), Func: e.uartWrite},
		{Name: "led_set", Signature: host.Sig([]api.ValueType{i32}), Func: e.ledSet},
		{Name: "uptime_ms", Signature: host.Sig(nil, i64), Func: e.uptimeMillis},
		{Name: "device_id", Signature: host.Sig(nil, i32), Func: e.deviceID},
		{Name: "abort", Signature: host.Sig([]api.ValueType{i32, i32, i32, i32}), Func: e.abort},
		{Name: "heartbeat", Signature: host.Sig(nil, i32), Func: e.heartbeat},
	}
}

// uart_write(ptr, len) -> written
func (e *Env) uartWrite(_ context.Context, mod api.Module, stack []uint64) {
	data := host.Read(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	n, err := e.board.UART.Write(data)
	if err != nil {
		Logger().Warn("uart sink write failed", zap.Error(err))
	}
	stack[0] = api.EncodeI32(int32(n))
}

// led_set(on)
func (e *Env) ledSet(_ context.Context, _ api.Module, stack []uint64) {
	e.board.LED.Set(api.DecodeU32(stack[0]) != 0)
}

// uptime_ms() -> ms
func (e *Env) uptimeMillis(_ context.Context, _ api.Module, stack []uint64) {
	stack[0] = api.EncodeI64(e.board.Clock.Uptime().Milliseconds())
}

// device_id() -> id
func (e *Env) deviceID(_ context.Context, _ api.Module, stack []uint64) {
	stack[0] = api.EncodeU32(e.board.DeviceID())
}

// heartbeat() -> bytes transmitted
func (e *Env) heartbeat(_ context.Context, mod api.Module, stack []uint64) {
	hb := Heartbeat{
		Source:   "firmware",
		DeviceID: e.board.DeviceID(),
		Uptime:   uint64(e.board.Clock.Uptime().Seconds()),
		Status:   1,
	}
	if mem := mod.Memory(); mem != nil {
		hb.MemoryUsed = mem.Size()
	}
	line, err := json.Marshal(hb)
	if err != nil {
		panic(errors.Wrap(errors.PhaseHost, errors.KindHostPanic, err, "encode heartbeat"))
	}
	n, err := e.board.UART.Write(append(line, '\n'))
	if err != nil {
		Logger().Warn("uart sink write failed", zap.Error(err))
	}
	stack[0] = api.EncodeI32(int32(n))
}

// abort(msg, file, line, column) traps the guest. msg and file are
// length-prefixed UTF-16 strings; unreadable ones are reported empty.
func (e *Env) abort(_ context.Context, mod api.Module, stack []uint64) {
	msg := readLengthPrefixedUTF16(mod, api.DecodeU32(stack[0]))
	file := readLengthPrefixedUTF16(mod, api.DecodeU32(stack[1]))
	line, col := api.DecodeU32(stack[2]), api.DecodeU32(stack[3])

	panic(errors.New(errors.PhaseHost, errors.KindTrap).
		Trap(errors.TrapAbort).
		Detail("abort: %q at %s:%d:%d", msg, file, line, col).
		Build())
}

// readLengthPrefixedUTF16 reads a string whose byte length is stored in the
// u32 before ptr.
func readLengthPrefixedUTF16(mod api.Module, ptr uint32) string {
	mem := mod.Memory()
	if mem == nil || ptr < 4 {
		return ""
	}
	n, ok := mem.ReadUint32Le(ptr - 4)
	if !ok || n%2 != 0 {
		return ""
	}
	raw, ok := mem.Read(ptr, n)
	if !ok {
		return ""
	}
	units := make([]uint16, n/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return string(utf16.Decode(units))
}
