package override

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/huh"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// ErrNoPendingOverride is returned by Deliver when no incident is waiting.
var ErrNoPendingOverride = errors.New("override: no incident is awaiting an override")

// TerminalPrompter asks the operator at the controlling terminal.
type TerminalPrompter struct{}

// Prompt shows a masked input field until the operator submits or ctx ends.
func (TerminalPrompter) Prompt(ctx context.Context, incident models.Incident) (string, error) {
	var code string
	desc := fmt.Sprintf("Incident %s on %s was blocked by policy.", incident.ID, incident.Target)
	if incident.PolicyDecision != nil {
		desc = fmt.Sprintf("%s\nRule %s, risk %d: %s", desc,
			incident.PolicyDecision.RuleID, incident.PolicyDecision.RiskScore, incident.PolicyDecision.Reason)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Override authorization code").
				Description(desc).
				EchoMode(huh.EchoModePassword).
				Value(&code),
		),
	)

	if err := form.RunWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrPromptTimeout, ctx.Err())
		}
		return "", fmt.Errorf("override: terminal prompt: %w", err)
	}
	return code, nil
}

// ChannelPrompter waits for a code delivered through Deliver, typically
// from the HTTP API.
type ChannelPrompter struct {
	mu      sync.Mutex
	pending *models.Incident
	codes   chan string
}

// NewChannelPrompter creates a prompter with no pending incident.
func NewChannelPrompter() *ChannelPrompter {
	return &ChannelPrompter{}
}

// Prompt blocks until a code is delivered or ctx ends.
func (p *ChannelPrompter) Prompt(ctx context.Context, incident models.Incident) (string, error) {
	codes := make(chan string, 1)

	p.mu.Lock()
	if p.pending != nil {
		p.mu.Unlock()
		return "", fmt.Errorf("override: incident %s is already awaiting an override", p.pending.ID)
	}
	inc := incident
	p.pending = &inc
	p.codes = codes
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.pending = nil
		p.codes = nil
		p.mu.Unlock()
	}()

	select {
	case code := <-codes:
		return code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrPromptTimeout, ctx.Err())
	}
}

// Deliver hands code to the waiting incident. Only the first delivery per
// prompt is used.
func (p *ChannelPrompter) Deliver(code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil {
		return ErrNoPendingOverride
	}
	select {
	case p.codes <- code:
		return nil
	default:
		return fmt.Errorf("override: a code was already submitted for incident %s", p.pending.ID)
	}
}

// Pending returns the incident awaiting an override, if any.
func (p *ChannelPrompter) Pending() (models.Incident, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil {
		return models.Incident{}, false
	}
	return *p.pending, true
}
