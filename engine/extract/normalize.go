package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/carsgate/portal-engine/engine/domain"
)

// Normalize converts a raw extraction response into the canonical
// domain.ParsedPost. The upstream may answer with a single object or an
// array of candidates; for arrays the first item flagged success=true wins,
// else the first item. Missing fields default to empty, never fail.
func Normalize(raw json.RawMessage, fallbackURL string) *domain.ParsedPost {
	item := pickItem(raw)
	if item == nil {
		return &domain.ParsedPost{
			Title: "Parsed: " + fallbackURL,
			Notes: "No fields returned",
		}
	}

	vehicle := &domain.VehicleInfo{
		Year:       toInt(item["year"]),
		Make:       toStr(item["make"]),
		Model:      toStr(item["model"]),
		VIN:        toStr(item["vin"]),
		Condition:  toStr(item["condition"]),
		Mileage:    toInt(item["mileage"]),
		Drivetrain: toStr(item["drivetrain"]),
		FuelType:   toStr(item["fuel"]),
		Engine:     toStr(item["engine"]),
	}
	if *vehicle == (domain.VehicleInfo{}) {
		vehicle = nil
	}

	specs := &domain.SpecsInfo{
		ExteriorColor:    toStr(item["exterior_color"]),
		InteriorColor:    toStr(item["interior_color"]),
		ExteriorFeatures: toStrList(item["exterior_features"]),
		InteriorFeatures: toStrList(item["interior_features"]),
		SafetyAndTech:    toStrList(item["safety_tech"]),
	}
	if specs.ExteriorColor == "" && specs.InteriorColor == "" &&
		len(specs.ExteriorFeatures) == 0 && len(specs.InteriorFeatures) == 0 &&
		len(specs.SafetyAndTech) == 0 {
		specs = nil
	}

	p := &domain.ParsedPost{
		Title:        pickTitle(item, fallbackURL),
		Notes:        pickNotes(item),
		Vehicle:      vehicle,
		Specs:        specs,
		Translations: parseTranslations(item["translations"]),
		CarHistory:   parseCarHistory(item["car_history"]),
		MileageUnit:  toStr(item["mileage_unit"]),
		Country:      toStr(item["country"]),
		State:        toStr(item["state"]),
		City:         toStr(item["city"]),
		Price:        toFloat(item["price"]),
	}
	return p
}

// pickItem decodes the response and selects the candidate object.
func pickItem(raw json.RawMessage) map[string]any {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}

	switch v := decoded.(type) {
	case map[string]any:
		return v
	case []any:
		var first map[string]any
		for _, el := range v {
			obj, ok := el.(map[string]any)
			if !ok {
				continue
			}
			if first == nil {
				first = obj
			}
			if success, ok := obj["success"].(bool); ok && success {
				return obj
			}
		}
		return first
	default:
		return nil
	}
}

// pickTitle falls back through data.title, title, result.title, then a
// year/make/model composite, then the listing URL.
func pickTitle(item map[string]any, fallbackURL string) string {
	if t := toStr(nested(item, "data", "title")); t != "" {
		return t
	}
	if t := toStr(item["title"]); t != "" {
		return t
	}
	if t := toStr(nested(item, "result", "title")); t != "" {
		return t
	}
	year, make, model := toInt(item["year"]), toStr(item["make"]), toStr(item["model"])
	if year != 0 && make != "" && model != "" {
		return fmt.Sprintf("%d %s %s", year, make, model)
	}
	return "Parsed: " + fallbackURL
}

func pickNotes(item map[string]any) string {
	if n := toStr(nested(item, "data", "notes")); n != "" {
		return n
	}
	if n := toStr(item["summary"]); n != "" {
		return n
	}
	if n := toStr(item["message"]); n != "" {
		return n
	}
	return "Parsed from AI"
}

func parseTranslations(v any) *domain.Translations {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	t := &domain.Translations{
		TitleAR:            toStr(obj["title_ar"]),
		MakeAR:             toStr(obj["make_ar"]),
		ModelAR:            toStr(obj["model_ar"]),
		FuelAR:             toStr(obj["fuel_ar"]),
		DrivetrainAR:       toStr(obj["drivetrain_ar"]),
		EngineAR:           toStr(obj["engine_ar"]),
		ExteriorColorAR:    toStr(obj["exterior_color_ar"]),
		InteriorColorAR:    toStr(obj["interior_color_ar"]),
		ExteriorFeaturesAR: toStrList(obj["exterior_features_ar"]),
		InteriorFeaturesAR: toStrList(obj["interior_features_ar"]),
		SafetyTechAR:       toStrList(obj["safety_tech_ar"]),
	}
	return t
}

// parseCarHistory accepts either an object or an embedded JSON string.
func parseCarHistory(v any) *domain.CarHistory {
	obj, ok := v.(map[string]any)
	if !ok {
		s, isStr := v.(string)
		if !isStr {
			return nil
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil
		}
		obj = decoded
	}
	return &domain.CarHistory{
		SingleOwner:        toBool(obj["single_owner"]),
		NoAccidentHistory:  toBool(obj["no_accident_history"]),
		FullServiceHistory: toBool(obj["full_service_history"]),
	}
}

func nested(item map[string]any, keys ...string) any {
	var cur any = item
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

// toStr trims and returns the string, or "" for anything else.
func toStr(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// toInt accepts numbers and numeric strings.
func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// toStrList accepts a list of strings or a comma-separated string, drops
// blanks, and deduplicates case-insensitively preserving order.
func toStrList(v any) []string {
	var items []string
	switch val := v.(type) {
	case []any:
		for _, el := range val {
			if s := toStr(el); s != "" {
				items = append(items, s)
			}
		}
	case string:
		for _, part := range strings.Split(val, ",") {
			if s := strings.TrimSpace(part); s != "" {
				items = append(items, s)
			}
		}
	}
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, s := range items {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
