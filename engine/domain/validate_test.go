package domain

import (
	"errors"
	"testing"
)

func TestValidateImportEntry(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://cars.example/listing/1", false},
		{"http", "http://cars.example/listing/2", false},
		{"whitespace around url", "  https://cars.example/3  ", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"no scheme", "cars.example/listing/4", true},
		{"ftp", "ftp://cars.example/5", true},
		{"scheme only", "https://", true},
	}
	for _, tt := range tests {
		err := ValidateImportEntry(ImportEntry{URL: tt.url})
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: ValidateImportEntry(%q) err=%v, wantErr=%v", tt.name, tt.url, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidURL) {
			t.Errorf("%s: expected ErrInvalidURL, got %v", tt.name, err)
		}
	}
}

func TestRepairImagesSingleMain(t *testing.T) {
	in := []ImageItem{
		{URL: "a", Keep: true, IsMain: true},
		{URL: "b", Keep: true, IsMain: true},
		{URL: "c", Keep: true},
	}
	out := RepairImages(in)

	mains := 0
	for _, img := range out {
		if img.IsMain {
			mains++
		}
	}
	if mains != 1 {
		t.Fatalf("expected exactly one main image, got %d", mains)
	}
	if !out[0].IsMain {
		t.Fatal("expected first kept main to win")
	}
	// Input must be untouched.
	if !in[1].IsMain {
		t.Fatal("RepairImages mutated its input")
	}
}

func TestRepairImagesPromotesKept(t *testing.T) {
	// No main among kept images: the first kept image becomes main.
	out := RepairImages([]ImageItem{
		{URL: "a", Keep: false, IsMain: true},
		{URL: "b", Keep: true},
		{URL: "c", Keep: true},
	})
	if out[0].IsMain {
		t.Fatal("discarded image must not stay main")
	}
	if !out[1].IsMain {
		t.Fatal("expected first kept image promoted to main")
	}
	if out[2].IsMain {
		t.Fatal("only one kept image may be main")
	}
}

func TestRepairImagesAllDiscarded(t *testing.T) {
	out := RepairImages([]ImageItem{
		{URL: "a", IsMain: true},
		{URL: "b"},
	})
	for _, img := range out {
		if img.IsMain {
			t.Fatal("no image may be main when none is kept")
		}
	}
}

func TestCanAnalyze(t *testing.T) {
	if err := CanAnalyze(nil); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("nil post: got %v", err)
	}
	if err := CanAnalyze(&Post{Status: StatusRejected, RawContent: "x"}); !errors.Is(err, ErrPostRejected) {
		t.Fatalf("rejected post: got %v", err)
	}
	if err := CanAnalyze(&Post{Status: StatusPending, RawContent: "  \n "}); !errors.Is(err, ErrEmptyRawContent) {
		t.Fatalf("empty raw: got %v", err)
	}
	if err := CanAnalyze(&Post{Status: StatusPending, RawContent: "2021 BMW X5"}); err != nil {
		t.Fatalf("valid post: got %v", err)
	}
}

func TestStepFlags(t *testing.T) {
	var f StepFlags
	f.Set(StepRaw)
	f.Set(StepPricing)
	f.Set(StepComplete) // complete has no flag, must be ignored
	if !f.Done(StepRaw) || !f.Done(StepPricing) {
		t.Fatal("expected raw and pricing complete")
	}
	if f.Done(StepDetails) || f.Done(StepImages) || f.Done(StepComplete) {
		t.Fatal("unexpected step marked complete")
	}
}

func TestPostClone(t *testing.T) {
	p := &Post{
		ID:     "p1",
		URL:    "https://cars.example/1",
		Status: StatusParsed,
		Images: []ImageItem{{URL: "a", Keep: true, IsMain: true}},
		Parsed: &ParsedPost{
			Title:   "2024 BMW X7",
			Vehicle: &VehicleInfo{Make: "BMW", Model: "X7", Year: 2024},
			Specs:   &SpecsInfo{ExteriorFeatures: []string{"Alloy Wheels"}},
		},
		Pricing: &Pricing{CarPriceUSD: 100},
	}
	c := p.Clone()
	c.Images[0].URL = "b"
	c.Parsed.Vehicle.Make = "Audi"
	c.Parsed.Specs.ExteriorFeatures[0] = "Sunroof"
	c.Pricing.CarPriceUSD = 1

	if p.Images[0].URL != "a" || p.Parsed.Vehicle.Make != "BMW" ||
		p.Parsed.Specs.ExteriorFeatures[0] != "Alloy Wheels" || p.Pricing.CarPriceUSD != 100 {
		t.Fatal("Clone shares state with original")
	}
}

func TestParsedPostEmpty(t *testing.T) {
	var nilParsed *ParsedPost
	if !nilParsed.Empty() {
		t.Fatal("nil parsed must be empty")
	}
	if !(&ParsedPost{}).Empty() {
		t.Fatal("zero parsed must be empty")
	}
	if (&ParsedPost{Title: "t"}).Empty() {
		t.Fatal("titled parsed must not be empty")
	}
	if (&ParsedPost{Price: 100}).Empty() {
		t.Fatal("priced parsed must not be empty")
	}
}
