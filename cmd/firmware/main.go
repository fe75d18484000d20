// Command firmware is the reset vector: it boots the bundled guest on the
// board described by the embedded configuration and never returns.
package main

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-firmware/board"
	"github.com/wippyai/wasm-firmware/boot"
	"github.com/wippyai/wasm-firmware/bridge"
	"github.com/wippyai/wasm-firmware/config"
	"github.com/wippyai/wasm-firmware/errors"
	"github.com/wippyai/wasm-firmware/fault"
	"github.com/wippyai/wasm-firmware/guest"
	"github.com/wippyai/wasm-firmware/host"
)

// arena is the statically reserved memory the guest and the interpreter's
// bookkeeping are placed in.
var arena [1 << 20]byte

func main() {
	ctx := context.Background()

	cfg, err := config.Embedded()
	if err != nil {
		// no board yet: park without indicator
		(&fault.Policy{}).OnFault(fault.FromError(err))
	}

	b := board.New(cfg.BoardOptions(os.Stdout))
	setLoggers(consoleLogger(b.UART))

	policy := b.Policy(cfg.Timing())
	region, err := staticRegion(arena[:], cfg.Arena.Capacity.Bytes())
	if err != nil {
		policy.OnFault(fault.FromError(err))
	}

	seq := &boot.Sequencer{
		Platform: b,
		Policy:   policy,
		Image:    guest.Heartbeat,
		Hosts:    []host.Host{b.Env()},
		Bridge:   cfg.Bridge(region),
	}
	seq.Reset(ctx)
}

// staticRegion returns the first capacity bytes of buf. A capacity larger than
// the static reservation is OutOfArena rather than a silently smaller arena.
func staticRegion(buf []byte, capacity uint64) ([]byte, error) {
	if capacity > uint64(len(buf)) {
		return nil, errors.OutOfArena(errors.PhaseConfig, capacity, 1, uint64(len(buf)))
	}
	return buf[:capacity], nil
}

// consoleLogger writes log lines to the UART.
func consoleLogger(uart *board.UART) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(uart), zapcore.InfoLevel)
	return zap.New(core)
}

func setLoggers(l *zap.Logger) {
	board.SetLogger(l.Named("board"))
	boot.SetLogger(l.Named("boot"))
	bridge.SetLogger(l.Named("bridge"))
	fault.SetLogger(l.Named("fault"))
	host.SetLogger(l.Named("host"))
}
