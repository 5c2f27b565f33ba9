// Package domain defines the core post model, status and workflow
// vocabularies, and validation for the portal import engine. It acts as the
// validation gate at the engine's entry points.
package domain

import "time"

// Status is the lifecycle status of an imported post.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusParsed    Status = "parsed"
	StatusRejected  Status = "rejected"
	StatusReady     Status = "ready"
)

// ValidStatuses is the set of recognised post statuses.
var ValidStatuses = map[Status]bool{
	StatusPending: true, StatusAnalyzing: true, StatusParsed: true,
	StatusRejected: true, StatusReady: true,
}

// Step is a post's position in the guided import workflow, independent of
// its Status.
type Step string

const (
	StepRaw      Step = "raw"
	StepDetails  Step = "details"
	StepImages   Step = "images"
	StepPricing  Step = "pricing"
	StepComplete Step = "complete"
)

// StepOrder lists the workflow steps in traversal order.
var StepOrder = []Step{StepRaw, StepDetails, StepImages, StepPricing, StepComplete}

// ValidSteps is the set of recognised workflow steps.
var ValidSteps = map[Step]bool{
	StepRaw: true, StepDetails: true, StepImages: true,
	StepPricing: true, StepComplete: true,
}

// StepFlags records which workflow steps have been completed. Flags are set
// monotonically; the engine never auto-unsets one.
type StepFlags struct {
	Raw     bool `json:"raw,omitempty"`
	Details bool `json:"details,omitempty"`
	Images  bool `json:"images,omitempty"`
	Pricing bool `json:"pricing,omitempty"`
}

// Set marks a step complete. Unknown steps are ignored.
func (f *StepFlags) Set(s Step) {
	switch s {
	case StepRaw:
		f.Raw = true
	case StepDetails:
		f.Details = true
	case StepImages:
		f.Images = true
	case StepPricing:
		f.Pricing = true
	}
}

// Done reports whether a step is marked complete.
func (f StepFlags) Done(s Step) bool {
	switch s {
	case StepRaw:
		return f.Raw
	case StepDetails:
		return f.Details
	case StepImages:
		return f.Images
	case StepPricing:
		return f.Pricing
	default:
		return false
	}
}

// ImageItem is one photo attached to a post.
type ImageItem struct {
	URL     string `json:"url"`
	Keep    bool   `json:"keep"`
	IsMain  bool   `json:"is_main"`
	Caption string `json:"caption,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// Pricing is the landed-cost breakdown for a post. Inputs are carPrice,
// shipping and brokerFee in USD plus platformFee in SAR; the remaining
// fields are derived by pricing.Calculate.
type Pricing struct {
	CarPriceUSD  float64 `json:"car_price_usd"`
	ShippingUSD  float64 `json:"shipping_usd"`
	BrokerFeeUSD float64 `json:"broker_fee_usd"`
	PlatformFee  float64 `json:"platform_fee_sar"`

	CarPriceSAR  float64 `json:"car_price_sar"`
	ShippingSAR  float64 `json:"shipping_sar"`
	BrokerFeeSAR float64 `json:"broker_fee_sar"`
	CustomsFees  float64 `json:"customs_fees_sar"`
	VAT          float64 `json:"vat_sar"`
	Total        float64 `json:"total_sar"`
}

// Post is one imported vehicle-listing record moving through the workflow.
type Post struct {
	ID              string      `json:"id"`
	URL             string      `json:"url"`
	Source          string      `json:"source,omitempty"`
	Note            string      `json:"note,omitempty"`
	Status          Status      `json:"status"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
	RawContent      string      `json:"raw_content,omitempty"`
	Parsed          *ParsedPost `json:"parsed_json,omitempty"`
	Images          []ImageItem `json:"images"`
	Pricing         *Pricing    `json:"pricing,omitempty"`
	Step            Step        `json:"workflow_step"`
	StepCompleted   StepFlags   `json:"step_completed"`
	LastUpdatedAt   time.Time   `json:"last_updated_at"`
}

// HasParsed reports whether the post carries a non-empty extraction result.
func (p *Post) HasParsed() bool {
	return p.Parsed != nil && !p.Parsed.Empty()
}

// Clone returns a deep copy of the post.
func (p *Post) Clone() *Post {
	cp := *p
	if p.Images != nil {
		cp.Images = make([]ImageItem, len(p.Images))
		copy(cp.Images, p.Images)
	}
	if p.Pricing != nil {
		pr := *p.Pricing
		cp.Pricing = &pr
	}
	if p.Parsed != nil {
		cp.Parsed = p.Parsed.Clone()
	}
	return &cp
}
