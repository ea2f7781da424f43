package telephony

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"callsync/internal/calls"
	"callsync/pkg/logger"

	"github.com/google/uuid"
)

// SandboxProvider accepts every call without touching the PSTN. It is the local development
// dialer and can replay a scripted lifecycle through Emit, standing in for provider webhooks.
//
// IMPORTANT:
// - Keep this adapter free of business logic; simulated events go through the same
//   reconciliation entry point as real webhooks.
type SandboxProvider struct {
	// Emit receives simulated status events. Nil disables simulation.
	Emit func(ctx context.Context, ev calls.StatusEvent) error

	// Script is the simulated lifecycle; DefaultSandboxScript when empty.
	Script []SandboxStep

	Logger *slog.Logger

	mu     sync.Mutex
	placed []OutboundCallRequest
	stop   chan struct{}
	halted bool
	wg     sync.WaitGroup
}

// SandboxStep is one simulated status report, sent After the previous step.
type SandboxStep struct {
	After           time.Duration
	Status          calls.Status
	DurationSeconds *int
	Recording       string
}

// DefaultSandboxScript walks a call through ringing and in-progress to completed.
func DefaultSandboxScript() []SandboxStep {
	d := 7
	return []SandboxStep{
		{After: 500 * time.Millisecond, Status: calls.StatusRinging},
		{After: 1500 * time.Millisecond, Status: calls.StatusInProgress},
		{After: 3 * time.Second, Status: calls.StatusCompleted, DurationSeconds: &d},
	}
}

func (p *SandboxProvider) Name() string { return "sandbox" }

func (p *SandboxProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *SandboxProvider) PlaceCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	token := "SB" + strings.ReplaceAll(uuid.NewString(), "-", "")

	p.mu.Lock()
	p.placed = append(p.placed, req)
	simulate := p.Emit != nil && !p.halted
	if simulate {
		if p.stop == nil {
			p.stop = make(chan struct{})
		}
		p.wg.Add(1)
	}
	stop := p.stop
	p.mu.Unlock()

	if simulate {
		script := p.Script
		if len(script) == 0 {
			script = DefaultSandboxScript()
		}
		go p.simulate(context.WithoutCancel(ctx), stop, token, script)
	}

	return OutboundCallResult{
		ProviderCallToken: token,
		ProviderStatus:    string(calls.StatusQueued),
		AcceptedAt:        time.Now().UTC(),
	}, nil
}

// Placed returns every request accepted so far.
func (p *SandboxProvider) Placed() []OutboundCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OutboundCallRequest, len(p.placed))
	copy(out, p.placed)
	return out
}

// Wait blocks until every running simulation has finished.
func (p *SandboxProvider) Wait() { p.wg.Wait() }

// Stop abandons pending simulated events and waits for running simulations to exit.
// Calls placed afterwards are accepted but not simulated.
func (p *SandboxProvider) Stop() {
	p.mu.Lock()
	if !p.halted {
		p.halted = true
		if p.stop != nil {
			close(p.stop)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *SandboxProvider) simulate(ctx context.Context, stop <-chan struct{}, token string, script []SandboxStep) {
	defer p.wg.Done()
	log := p.Logger
	if log == nil {
		log = logger.Discard()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, step := range script {
		timer := time.NewTimer(step.After)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			log.Debug("sandbox: simulation stopped", "call_sid", token)
			return
		}
		ev, err := calls.NewStatusEvent(token, string(step.Status), step.DurationSeconds, step.Recording, time.Now())
		if err != nil {
			log.Error("sandbox: invalid scripted event", "call_sid", token, "err", err)
			return
		}
		if err := p.Emit(ctx, ev); err != nil {
			// The record may not be persisted yet when the first step fires.
			log.Warn("sandbox: simulated event rejected", "call_sid", token, "status", ev.Status, "err", err)
		}
	}
}
