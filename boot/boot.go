// Package boot is the firmware's reset entry. It brings up the platform,
// drives the interpreter bridge through its lifecycle and hands the outcome
// to the fault policy.
package boot

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-firmware/bridge"
	"github.com/wippyai/wasm-firmware/errors"
	"github.com/wippyai/wasm-firmware/fault"
	"github.com/wippyai/wasm-firmware/host"
)

// Platform is the hardware bring-up run before the bridge: clocks and the
// interrupt controller.
type Platform interface {
	Init(ctx context.Context) error
}

// Outcome is the result of a boot pipeline that ran to completion.
type Outcome struct {
	Bridge  *bridge.Bridge
	Results []uint64
}

// Sequencer runs the boot sequence.
type Sequencer struct {
	// Platform is brought up first. Optional.
	Platform Platform

	// Policy receives the terminal outcome. Defaults to a policy with no
	// indicator and no mailbox.
	Policy *fault.Policy

	// Image is the guest module.
	Image []byte

	// Hosts are registered in order before the registry is frozen.
	Hosts []host.Host

	// Bridge configures the interpreter bridge.
	Bridge bridge.Config

	bridge *bridge.Bridge
}

// Step runs platform bring-up and the bridge pipeline and returns without
// parking. The bridge is returned even on failure so callers can inspect
// its state; it is nil only when bring-up failed.
func (s *Sequencer) Step(ctx context.Context) (Outcome, error) {
	if s.Platform != nil {
		if err := s.Platform.Init(ctx); err != nil {
			if !errors.IsKind(err, errors.KindHardwareException) {
				err = errors.HardwareException("platform init", err)
			}
			return Outcome{}, err
		}
	}

	b := bridge.New(s.Bridge)
	s.bridge = b
	out := Outcome{Bridge: b}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"arena", func() error { return b.InitArena(ctx) }},
		{"register", func() error { return s.register(b) }},
		{"freeze", b.FreezeRegistry},
		{"load", func() error { return b.Load(ctx, s.Image) }},
		{"instantiate", func() error { return b.Instantiate(ctx) }},
		{"run", func() error { return b.Run(ctx) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			Logger().Debug("boot step failed",
				zap.String("step", step.name),
				zap.Stringer("state", b.State()),
				zap.Error(err))
			return out, err
		}
	}

	out.Results = b.Results()
	return out, nil
}

// Close releases the interpreter of the last Step. A firmware image never
// calls it; hosts that power cycle the sequencer do.
func (s *Sequencer) Close(ctx context.Context) error {
	if s.bridge == nil {
		return nil
	}
	b := s.bridge
	s.bridge = nil
	return b.Close(ctx)
}

func (s *Sequencer) register(b *bridge.Bridge) error {
	for _, h := range s.Hosts {
		if err := b.RegisterHost(h); err != nil {
			return err
		}
	}
	return nil
}

// Reset is the reset entry. It never returns: a clean run ends in
// Policy.Halt, anything else in Policy.OnFault, including panics that escape
// the pipeline.
func (s *Sequencer) Reset(ctx context.Context) {
	p := s.Policy
	if p == nil {
		p = &fault.Policy{}
	}
	defer p.Guard()

	Logger().Info("reset", zap.Int("image_size", len(s.Image)), zap.Int("hosts", len(s.Hosts)))

	out, err := s.Step(ctx)
	if err != nil {
		p.OnFault(fault.FromError(err))
		return
	}
	p.Halt(out.Results)
}
