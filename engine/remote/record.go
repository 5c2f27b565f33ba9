package remote

import (
	"encoding/json"
	"time"

	"github.com/carsgate/portal-engine/engine/domain"
)

// Record is the remote row shape of one import post. Structured columns
// (parsed_json, images, step_completed, pricing) are stored as JSON blobs,
// mirroring the table layout of the hosted store.
type Record struct {
	ID              string          `json:"id"`
	AdminID         string          `json:"admin_id"`
	URL             string          `json:"url"`
	Source          string          `json:"source,omitempty"`
	Note            string          `json:"note,omitempty"`
	Status          string          `json:"status"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	RawContent      string          `json:"raw_content,omitempty"`
	ParsedJSON      json.RawMessage `json:"parsed_json,omitempty"`
	Images          json.RawMessage `json:"images,omitempty"`
	Pricing         json.RawMessage `json:"pricing,omitempty"`
	WorkflowStep    string          `json:"workflow_step"`
	StepCompleted   json.RawMessage `json:"step_completed,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Patch is a partial row update. Nil fields are left untouched.
type Patch struct {
	Status          *string          `json:"status,omitempty"`
	RejectionReason *string          `json:"rejection_reason,omitempty"`
	RawContent      *string          `json:"raw_content,omitempty"`
	ParsedJSON      *json.RawMessage `json:"parsed_json,omitempty"`
	Images          *json.RawMessage `json:"images,omitempty"`
	Pricing         *json.RawMessage `json:"pricing,omitempty"`
	WorkflowStep    *string          `json:"workflow_step,omitempty"`
	StepCompleted   *json.RawMessage `json:"step_completed,omitempty"`
}

// String is a convenience for building patch fields.
func String(s string) *string { return &s }

// JSON marshals v into a patch field. Marshal errors cannot occur for the
// domain types involved, so they map to an untouched field.
func JSON(v any) *json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	raw := json.RawMessage(b)
	return &raw
}

// statusToDomain translates the remote status vocabulary, including the
// legacy "inserted" value still present in old rows, into the engine's.
func statusToDomain(s string) domain.Status {
	switch s {
	case "inserted":
		return domain.StatusReady
	case "":
		return domain.StatusPending
	default:
		st := domain.Status(s)
		if !domain.ValidStatuses[st] {
			return domain.StatusPending
		}
		return st
	}
}

func stepToDomain(s string) domain.Step {
	st := domain.Step(s)
	if !domain.ValidSteps[st] {
		return domain.StepRaw
	}
	return st
}

// ToPost maps a remote row into the in-memory post model, defaulting
// malformed or missing JSON columns instead of failing: one bad column must
// not make the whole row unusable.
func (r Record) ToPost() *domain.Post {
	p := &domain.Post{
		ID:              r.ID,
		URL:             r.URL,
		Source:          r.Source,
		Note:            r.Note,
		Status:          statusToDomain(r.Status),
		RejectionReason: r.RejectionReason,
		RawContent:      r.RawContent,
		Step:            stepToDomain(r.WorkflowStep),
		Images:          []domain.ImageItem{},
		LastUpdatedAt:   r.UpdatedAt,
	}

	if len(r.ParsedJSON) > 0 {
		var parsed domain.ParsedPost
		if err := json.Unmarshal(r.ParsedJSON, &parsed); err == nil && !parsed.Empty() {
			p.Parsed = &parsed
		}
	}
	if len(r.Images) > 0 {
		var images []domain.ImageItem
		if err := json.Unmarshal(r.Images, &images); err == nil && images != nil {
			p.Images = images
		}
	}
	if len(r.Pricing) > 0 {
		var pricing domain.Pricing
		if err := json.Unmarshal(r.Pricing, &pricing); err == nil {
			p.Pricing = &pricing
		}
	}
	if len(r.StepCompleted) > 0 {
		var flags domain.StepFlags
		if err := json.Unmarshal(r.StepCompleted, &flags); err == nil {
			p.StepCompleted = flags
		}
	}
	return p
}

// FromPost maps a post into the remote row shape.
func FromPost(p *domain.Post, adminID string) Record {
	r := Record{
		ID:              p.ID,
		AdminID:         adminID,
		URL:             p.URL,
		Source:          p.Source,
		Note:            p.Note,
		Status:          string(p.Status),
		RejectionReason: p.RejectionReason,
		RawContent:      p.RawContent,
		WorkflowStep:    string(p.Step),
		UpdatedAt:       p.LastUpdatedAt,
	}
	if p.Parsed != nil {
		if raw := JSON(p.Parsed); raw != nil {
			r.ParsedJSON = *raw
		}
	}
	if raw := JSON(p.Images); raw != nil {
		r.Images = *raw
	}
	if p.Pricing != nil {
		if raw := JSON(p.Pricing); raw != nil {
			r.Pricing = *raw
		}
	}
	if raw := JSON(p.StepCompleted); raw != nil {
		r.StepCompleted = *raw
	}
	return r
}
