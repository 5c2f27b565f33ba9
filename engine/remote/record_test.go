package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/carsgate/portal-engine/engine/domain"
)

func TestRecordToPost(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	r := Record{
		ID:            "p1",
		URL:           "https://cars.example/1",
		Source:        "paste",
		Status:        "parsed",
		RawContent:    "2024 BMW X7",
		ParsedJSON:    json.RawMessage(`{"title":"2024 BMW X7","vehicle":{"make":"BMW","model":"X7","year":2024}}`),
		Images:        json.RawMessage(`[{"url":"a","keep":true,"is_main":true}]`),
		Pricing:       json.RawMessage(`{"car_price_usd":100000,"total_sar":484812.5}`),
		WorkflowStep:  "details",
		StepCompleted: json.RawMessage(`{"raw":true}`),
		UpdatedAt:     now,
	}
	p := r.ToPost()

	if p.ID != "p1" || p.Status != domain.StatusParsed || p.Step != domain.StepDetails {
		t.Fatalf("mapped post = %+v", p)
	}
	if p.Parsed == nil || p.Parsed.Vehicle.Make != "BMW" {
		t.Fatalf("parsed = %+v", p.Parsed)
	}
	if len(p.Images) != 1 || !p.Images[0].IsMain {
		t.Fatalf("images = %+v", p.Images)
	}
	if p.Pricing == nil || p.Pricing.Total != 484812.5 {
		t.Fatalf("pricing = %+v", p.Pricing)
	}
	if !p.StepCompleted.Raw || p.StepCompleted.Details {
		t.Fatalf("step flags = %+v", p.StepCompleted)
	}
	if !p.LastUpdatedAt.Equal(now) {
		t.Fatalf("updated at = %v", p.LastUpdatedAt)
	}
}

func TestRecordToPostStatusVocabulary(t *testing.T) {
	tests := []struct {
		remote string
		want   domain.Status
	}{
		{"pending", domain.StatusPending},
		{"analyzing", domain.StatusAnalyzing},
		{"parsed", domain.StatusParsed},
		{"rejected", domain.StatusRejected},
		{"ready", domain.StatusReady},
		{"inserted", domain.StatusReady}, // legacy vocabulary
		{"", domain.StatusPending},
		{"bogus", domain.StatusPending},
	}
	for _, tt := range tests {
		p := Record{Status: tt.remote}.ToPost()
		if p.Status != tt.want {
			t.Errorf("status %q mapped to %s, want %s", tt.remote, p.Status, tt.want)
		}
	}
}

func TestRecordToPostDefaultsMalformedColumns(t *testing.T) {
	r := Record{
		ID:            "p1",
		URL:           "https://cars.example/1",
		Status:        "pending",
		WorkflowStep:  "not-a-step",
		ParsedJSON:    json.RawMessage(`{{bad`),
		Images:        json.RawMessage(`"not a list"`),
		StepCompleted: json.RawMessage(`[]`),
	}
	p := r.ToPost()
	if p.Step != domain.StepRaw {
		t.Fatalf("unknown step mapped to %s, want raw", p.Step)
	}
	if p.Parsed != nil {
		t.Fatalf("malformed parsed_json must map to nil, got %+v", p.Parsed)
	}
	if p.Images == nil || len(p.Images) != 0 {
		t.Fatalf("malformed images must default to empty list, got %+v", p.Images)
	}
	if p.StepCompleted != (domain.StepFlags{}) {
		t.Fatalf("malformed step_completed must default, got %+v", p.StepCompleted)
	}
}

func TestFromPostRoundTrip(t *testing.T) {
	p := &domain.Post{
		ID:         "p2",
		URL:        "https://cars.example/2",
		Status:     domain.StatusParsed,
		RawContent: "raw text",
		Parsed: &domain.ParsedPost{
			Title:   "2021 Kia EV6",
			Vehicle: &domain.VehicleInfo{Make: "Kia", Model: "EV6", Year: 2021},
		},
		Images:        []domain.ImageItem{{URL: "a", Keep: true, IsMain: true}},
		Pricing:       &domain.Pricing{CarPriceUSD: 42000},
		Step:          domain.StepImages,
		StepCompleted: domain.StepFlags{Raw: true, Details: true},
		LastUpdatedAt: time.Now().UTC(),
	}

	back := FromPost(p, "admin-1").ToPost()
	if back.ID != p.ID || back.URL != p.URL || back.Status != p.Status || back.Step != p.Step {
		t.Fatalf("round trip lost identity fields: %+v", back)
	}
	if back.Parsed == nil || back.Parsed.Vehicle.Model != "EV6" {
		t.Fatalf("round trip lost parsed: %+v", back.Parsed)
	}
	if len(back.Images) != 1 || back.Images[0].URL != "a" {
		t.Fatalf("round trip lost images: %+v", back.Images)
	}
	if back.Pricing == nil || back.Pricing.CarPriceUSD != 42000 {
		t.Fatalf("round trip lost pricing: %+v", back.Pricing)
	}
	if !back.StepCompleted.Raw || !back.StepCompleted.Details || back.StepCompleted.Images {
		t.Fatalf("round trip lost step flags: %+v", back.StepCompleted)
	}
}
