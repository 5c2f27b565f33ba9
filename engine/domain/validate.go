package domain

import (
	"net/url"
	"strings"
)

// ImportEntry is one row of an import request (single paste, bulk paste, or
// spreadsheet upload).
type ImportEntry struct {
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
	Note   string `json:"note,omitempty"`
}

// ValidateImportEntry checks that an entry carries an absolute http(s) URL.
func ValidateImportEntry(e ImportEntry) error {
	raw := strings.TrimSpace(e.URL)
	if raw == "" {
		return NewValidationError("url", raw, ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewValidationError("url", raw, ErrInvalidURL)
	}
	return nil
}

// ValidateStatus checks the status vocabulary.
func ValidateStatus(s Status) error {
	if !ValidStatuses[s] {
		return NewValidationError("status", string(s), ErrInvalidStatus)
	}
	return nil
}

// ValidateStep checks the workflow-step vocabulary.
func ValidateStep(s Step) error {
	if !ValidSteps[s] {
		return NewValidationError("workflow_step", string(s), ErrInvalidStep)
	}
	return nil
}

// RepairImages enforces the main-image invariant on a copy of images: at
// most one image is main, and if any image is kept, exactly one kept image
// is main. The first kept main wins; a main flag on a discarded image is
// cleared.
func RepairImages(images []ImageItem) []ImageItem {
	out := make([]ImageItem, len(images))
	copy(out, images)

	mainSeen := false
	anyKept := false
	for i := range out {
		if out[i].Keep {
			anyKept = true
		}
		if !out[i].IsMain {
			continue
		}
		if !out[i].Keep || mainSeen {
			out[i].IsMain = false
			continue
		}
		mainSeen = true
	}

	if anyKept && !mainSeen {
		for i := range out {
			if out[i].Keep {
				out[i].IsMain = true
				break
			}
		}
	}
	return out
}

// CanAnalyze checks the analyze preconditions: the post exists, has raw
// content, and is not rejected. Violations fail fast before any network call.
func CanAnalyze(p *Post) error {
	if p == nil {
		return ErrPostNotFound
	}
	if p.Status == StatusRejected {
		return NewValidationError("status", string(p.Status), ErrPostRejected)
	}
	if strings.TrimSpace(p.RawContent) == "" {
		return NewValidationError("raw_content", "", ErrEmptyRawContent)
	}
	return nil
}
