package board

import (
	"sync"
)

// IRQ is an interrupt line number.
type IRQ uint8

const (
	IRQTimer IRQ = iota
	IRQUART
	NumIRQ
)

// Interrupts is the interrupt controller. Interrupts raised while disabled
// stay pending and are delivered, once per line, on Enable. It implements
// fault.Interrupts.
type Interrupts struct {
	handlers [NumIRQ]func()
	pending  [NumIRQ]bool
	counts   [NumIRQ]uint64
	mu       sync.Mutex
	enabled  bool
}

// Handle installs the handler for irq.
func (c *Interrupts) Handle(irq IRQ, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[irq] = fn
}

// Enable unmasks interrupts and delivers pending ones.
func (c *Interrupts) Enable() {
	c.mu.Lock()
	c.enabled = true
	var deliver []func()
	for irq := range c.pending {
		if c.pending[irq] && c.handlers[irq] != nil {
			deliver = append(deliver, c.handlers[irq])
			c.counts[irq]++
		}
		c.pending[irq] = false
	}
	c.mu.Unlock()

	for _, fn := range deliver {
		fn()
	}
}

// Disable masks all interrupts.
func (c *Interrupts) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
}

// Enabled reports whether interrupts are unmasked.
func (c *Interrupts) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Raise signals irq. It reports whether the handler ran.
func (c *Interrupts) Raise(irq IRQ) bool {
	if irq >= NumIRQ {
		return false
	}
	c.mu.Lock()
	fn := c.handlers[irq]
	if !c.enabled || fn == nil {
		c.pending[irq] = true
		c.mu.Unlock()
		return false
	}
	c.counts[irq]++
	c.mu.Unlock()

	fn()
	return true
}

// Count returns how many times irq has been delivered.
func (c *Interrupts) Count(irq IRQ) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[irq]
}
