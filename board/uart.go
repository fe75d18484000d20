package board

import (
	"io"
	"strings"
	"sync"
)

// UARTBase is the transmit register address of UART0 on the reference board.
const UARTBase = 0x10013000

// UART is the serial console. Writes go to an optional sink and into a
// bounded transmit log that keeps the most recent bytes.
type UART struct {
	sink  io.Writer
	log   []byte
	head  int
	total uint64
	mu    sync.Mutex
	full  bool
}

// NewUART creates a UART keeping the last logSize transmitted bytes.
func NewUART(logSize int, sink io.Writer) *UART {
	if logSize <= 0 {
		logSize = 4096
	}
	return &UART{log: make([]byte, logSize), sink: sink}
}

// Write transmits p. It implements io.Writer and zapcore.WriteSyncer.
func (u *UART) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.total += uint64(len(p))
	src := p
	if len(src) > len(u.log) {
		src = src[len(src)-len(u.log):]
		u.full = true
	}
	for len(src) > 0 {
		n := copy(u.log[u.head:], src)
		src = src[n:]
		u.head += n
		if u.head == len(u.log) {
			u.head = 0
			u.full = true
		}
	}

	if u.sink != nil {
		return u.sink.Write(p)
	}
	return len(p), nil
}

// Sync implements zapcore.WriteSyncer. The transmit path is unbuffered.
func (u *UART) Sync() error { return nil }

// Bytes returns the transmit log, oldest byte first.
func (u *UART) Bytes() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.full {
		return append([]byte(nil), u.log[:u.head]...)
	}
	out := make([]byte, 0, len(u.log))
	out = append(out, u.log[u.head:]...)
	return append(out, u.log[:u.head]...)
}

// Lines returns the complete lines in the transmit log. A partial first line
// left by wraparound is dropped.
func (u *UART) Lines() []string {
	u.mu.Lock()
	wrapped := u.full
	u.mu.Unlock()

	text := string(u.Bytes())
	if wrapped {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
	}
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Total returns the number of bytes ever transmitted.
func (u *UART) Total() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.total
}
