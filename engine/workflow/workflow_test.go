package workflow

import (
	"testing"

	"github.com/carsgate/portal-engine/engine/domain"
)

func TestNextPrev(t *testing.T) {
	tests := []struct {
		step, next, prev domain.Step
	}{
		{domain.StepRaw, domain.StepDetails, domain.StepRaw},
		{domain.StepDetails, domain.StepImages, domain.StepRaw},
		{domain.StepImages, domain.StepPricing, domain.StepDetails},
		{domain.StepPricing, domain.StepComplete, domain.StepImages},
		{domain.StepComplete, domain.StepComplete, domain.StepPricing},
	}
	for _, tt := range tests {
		if got := Next(tt.step); got != tt.next {
			t.Errorf("Next(%s) = %s, want %s", tt.step, got, tt.next)
		}
		if got := Prev(tt.step); got != tt.prev {
			t.Errorf("Prev(%s) = %s, want %s", tt.step, got, tt.prev)
		}
	}
}

func TestAdvanceIdempotent(t *testing.T) {
	p := &domain.Post{Step: domain.StepRaw}
	if !Advance(p, domain.StepRaw) {
		t.Fatal("first advance must succeed")
	}
	if p.Step != domain.StepDetails {
		t.Fatalf("step = %s, want details", p.Step)
	}
	// The completion event fired twice: advancing from raw again is a no-op.
	if Advance(p, domain.StepRaw) {
		t.Fatal("advancing from a step the post is not on must be a no-op")
	}
	if p.Step != domain.StepDetails {
		t.Fatalf("double advance moved the step to %s", p.Step)
	}
}

func TestAdvanceTerminal(t *testing.T) {
	p := &domain.Post{Step: domain.StepComplete}
	if Advance(p, domain.StepComplete) {
		t.Fatal("complete must not advance")
	}
}

func TestCanProceedToDetails(t *testing.T) {
	parsed := &domain.ParsedPost{Title: "2024 BMW X7"}
	base := domain.Post{
		Status:        domain.StatusParsed,
		RawContent:    "2024 BMW X7 for sale",
		Parsed:        parsed,
		StepCompleted: domain.StepFlags{Raw: true},
	}

	if !CanProceedToDetails(&base) {
		t.Fatal("fully parsed post must proceed")
	}

	noRaw := base
	noRaw.RawContent = "   "
	if CanProceedToDetails(&noRaw) {
		t.Fatal("blank raw content must not proceed")
	}

	noFlag := base
	noFlag.StepCompleted = domain.StepFlags{}
	if CanProceedToDetails(&noFlag) {
		t.Fatal("incomplete raw step must not proceed")
	}

	noParsed := base
	noParsed.Parsed = nil
	if CanProceedToDetails(&noParsed) {
		t.Fatal("missing parsed result must not proceed")
	}

	analyzing := base
	analyzing.Status = domain.StatusAnalyzing
	if CanProceedToDetails(&analyzing) {
		t.Fatal("non-parsed status must not proceed")
	}
}

func TestGatesPerStep(t *testing.T) {
	p := &domain.Post{Step: domain.StepDetails}
	if CanProceed(p) {
		t.Fatal("details gate requires the details flag")
	}
	p.StepCompleted.Details = true
	if !CanProceed(p) {
		t.Fatal("details flag must open the details gate")
	}

	p = &domain.Post{Step: domain.StepImages}
	if CanProceed(p) {
		t.Fatal("images gate requires at least one image")
	}
	p.Images = []domain.ImageItem{{URL: "a", Keep: true, IsMain: true}}
	if !CanProceed(p) {
		t.Fatal("one image must open the images gate")
	}

	p = &domain.Post{Step: domain.StepPricing}
	if CanProceed(p) {
		t.Fatal("pricing gate requires the pricing flag")
	}
	p.StepCompleted.Pricing = true
	if !CanProceed(p) {
		t.Fatal("pricing flag must open the pricing gate")
	}

	if CanProceed(&domain.Post{Step: domain.StepComplete}) {
		t.Fatal("complete has no onward gate")
	}
}
