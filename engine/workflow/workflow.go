// Package workflow owns the per-post step state machine: which transitions
// are legal, which "proceed" actions are gated, and the one asynchronous
// auto-advance that follows a successful extraction.
package workflow

import (
	"strings"

	"github.com/carsgate/portal-engine/engine/domain"
)

// index returns the position of s in the step order, or -1.
func index(s domain.Step) int {
	for i, step := range domain.StepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Next returns the step after s. The last step returns itself.
func Next(s domain.Step) domain.Step {
	i := index(s)
	if i < 0 || i == len(domain.StepOrder)-1 {
		return s
	}
	return domain.StepOrder[i+1]
}

// Prev returns the step before s. The first step returns itself. Back
// navigation is non-destructive: it never clears later steps' data.
func Prev(s domain.Step) domain.Step {
	i := index(s)
	if i <= 0 {
		return s
	}
	return domain.StepOrder[i-1]
}

// Advance moves the post from the given step to the next one. Advancing from
// a step the post is not currently on is a no-op; the auto-advance after
// extraction may fire twice and must not double-advance.
func Advance(p *domain.Post, from domain.Step) bool {
	if p == nil || p.Step != from {
		return false
	}
	next := Next(from)
	if next == from {
		return false
	}
	p.Step = next
	return true
}

// CanProceedToDetails gates raw → details: the raw step is complete, raw
// content is present, an extraction result exists, and the post is parsed.
func CanProceedToDetails(p *domain.Post) bool {
	return p != nil &&
		p.StepCompleted.Raw &&
		strings.TrimSpace(p.RawContent) != "" &&
		p.HasParsed() &&
		p.Status == domain.StatusParsed
}

// CanProceedToImages gates details → images.
func CanProceedToImages(p *domain.Post) bool {
	return p != nil && p.StepCompleted.Details
}

// CanProceedToPricing gates images → pricing.
func CanProceedToPricing(p *domain.Post) bool {
	return p != nil && len(p.Images) > 0
}

// CanComplete gates pricing → complete.
func CanComplete(p *domain.Post) bool {
	return p != nil && p.StepCompleted.Pricing
}

// CanProceed reports whether the post may advance out of its current step.
func CanProceed(p *domain.Post) bool {
	if p == nil {
		return false
	}
	switch p.Step {
	case domain.StepRaw:
		return CanProceedToDetails(p)
	case domain.StepDetails:
		return CanProceedToImages(p)
	case domain.StepImages:
		return CanProceedToPricing(p)
	case domain.StepPricing:
		return CanComplete(p)
	default:
		return false
	}
}
