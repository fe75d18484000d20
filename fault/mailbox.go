package fault

import (
	"encoding/binary"

	"github.com/wippyai/wasm-firmware/errors"
)

// MailboxMagic marks a valid mailbox ("WFLT" little-endian).
const MailboxMagic uint32 = 0x544C4657

// MailboxSize is the number of bytes Encode writes.
const MailboxSize = 24

const (
	flagAddress uint32 = 1 << iota
	flagDouble
)

// trapCodes numbers trap codes for the mailbox; 0 means none.
var trapCodes = []errors.TrapCode{
	"",
	errors.TrapOutOfBounds,
	errors.TrapDivideByZero,
	errors.TrapUnreachable,
	errors.TrapIntegerOverflow,
	errors.TrapInvalidConversion,
	errors.TrapStackOverflow,
	errors.TrapTableAccess,
	errors.TrapIndirectCall,
	errors.TrapAbort,
	errors.TrapExit,
	errors.TrapUnknown,
}

// Mailbox is the fault summary left in a fixed memory location for a
// debugger. Layout, little-endian:
//
//	0  magic   u32
//	4  kind    u32
//	8  trap    u32
//	12 flags   u32
//	16 address u64
type Mailbox struct {
	Trap       errors.TrapCode
	Address    uint64
	Kind       Kind
	HasAddress bool
	Double     bool
}

// Encode writes the mailbox into dst, which must hold MailboxSize bytes.
func (m Mailbox) Encode(dst []byte) {
	_ = dst[MailboxSize-1]
	var flags uint32
	if m.HasAddress {
		flags |= flagAddress
	}
	if m.Double {
		flags |= flagDouble
	}
	binary.LittleEndian.PutUint32(dst[0:], MailboxMagic)
	binary.LittleEndian.PutUint32(dst[4:], uint32(m.Kind))
	binary.LittleEndian.PutUint32(dst[8:], trapNumber(m.Trap))
	binary.LittleEndian.PutUint32(dst[12:], flags)
	binary.LittleEndian.PutUint64(dst[16:], m.Address)
}

// DecodeMailbox reads a mailbox written by Encode. It reports false when src
// is too short or the magic is missing.
func DecodeMailbox(src []byte) (Mailbox, bool) {
	if len(src) < MailboxSize || binary.LittleEndian.Uint32(src) != MailboxMagic {
		return Mailbox{}, false
	}
	flags := binary.LittleEndian.Uint32(src[12:])
	m := Mailbox{
		Kind:       Kind(binary.LittleEndian.Uint32(src[4:])),
		Address:    binary.LittleEndian.Uint64(src[16:]),
		HasAddress: flags&flagAddress != 0,
		Double:     flags&flagDouble != 0,
	}
	if n := binary.LittleEndian.Uint32(src[8:]); int(n) < len(trapCodes) {
		m.Trap = trapCodes[n]
	} else {
		m.Trap = errors.TrapUnknown
	}
	return m, true
}

func trapNumber(code errors.TrapCode) uint32 {
	for i, c := range trapCodes {
		if c == code {
			return uint32(i)
		}
	}
	return uint32(len(trapCodes) - 1)
}

func mailboxFor(r Record, double bool) Mailbox {
	return Mailbox{
		Kind:       r.Kind,
		Trap:       r.Trap,
		Address:    r.Address,
		HasAddress: r.HasAddress,
		Double:     double,
	}
}
