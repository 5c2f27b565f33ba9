package domain

// ParsedPost is the canonical structured extraction result. Every field is
// optional; the extraction normalizer defaults missing fields to the zero
// value instead of failing.
type ParsedPost struct {
	Title string `json:"title,omitempty"`
	Notes string `json:"notes,omitempty"`

	Vehicle      *VehicleInfo  `json:"vehicle,omitempty"`
	Specs        *SpecsInfo    `json:"specs,omitempty"`
	Translations *Translations `json:"translations,omitempty"`
	CarHistory   *CarHistory   `json:"car_history,omitempty"`

	MileageUnit string  `json:"mileage_unit,omitempty"`
	Country     string  `json:"country,omitempty"`
	State       string  `json:"state,omitempty"`
	City        string  `json:"city,omitempty"`
	Price       float64 `json:"price,omitempty"`
}

// VehicleInfo holds the extracted vehicle identity attributes.
type VehicleInfo struct {
	Year       int    `json:"year,omitempty"`
	Make       string `json:"make,omitempty"`
	Model      string `json:"model,omitempty"`
	VIN        string `json:"vin,omitempty"`
	Condition  string `json:"condition,omitempty"`
	Mileage    int    `json:"mileage,omitempty"`
	Drivetrain string `json:"drivetrain,omitempty"`
	FuelType   string `json:"fuel_type,omitempty"`
	Engine     string `json:"engine,omitempty"`
}

// SpecsInfo holds colors and feature lists.
type SpecsInfo struct {
	ExteriorColor    string   `json:"exterior_color,omitempty"`
	InteriorColor    string   `json:"interior_color,omitempty"`
	ExteriorFeatures []string `json:"exterior_features,omitempty"`
	InteriorFeatures []string `json:"interior_features,omitempty"`
	SafetyAndTech    []string `json:"safety_and_tech,omitempty"`
}

// Translations holds the Arabic translations of the extracted fields.
type Translations struct {
	TitleAR            string   `json:"title_ar,omitempty"`
	MakeAR             string   `json:"make_ar,omitempty"`
	ModelAR            string   `json:"model_ar,omitempty"`
	FuelAR             string   `json:"fuel_ar,omitempty"`
	DrivetrainAR       string   `json:"drivetrain_ar,omitempty"`
	EngineAR           string   `json:"engine_ar,omitempty"`
	ExteriorColorAR    string   `json:"exterior_color_ar,omitempty"`
	InteriorColorAR    string   `json:"interior_color_ar,omitempty"`
	ExteriorFeaturesAR []string `json:"exterior_features_ar,omitempty"`
	InteriorFeaturesAR []string `json:"interior_features_ar,omitempty"`
	SafetyTechAR       []string `json:"safety_tech_ar,omitempty"`
}

// CarHistory holds the ownership/accident/service flags.
type CarHistory struct {
	SingleOwner        bool `json:"single_owner"`
	NoAccidentHistory  bool `json:"no_accident_history"`
	FullServiceHistory bool `json:"full_service_history"`
}

// Empty reports whether the parsed result carries no data at all.
func (p *ParsedPost) Empty() bool {
	if p == nil {
		return true
	}
	return p.Title == "" && p.Notes == "" && p.Vehicle == nil && p.Specs == nil &&
		p.Translations == nil && p.CarHistory == nil && p.MileageUnit == "" &&
		p.Country == "" && p.State == "" && p.City == "" && p.Price == 0
}

// Clone returns a deep copy of the parsed result.
func (p *ParsedPost) Clone() *ParsedPost {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Vehicle != nil {
		v := *p.Vehicle
		cp.Vehicle = &v
	}
	if p.Specs != nil {
		s := *p.Specs
		s.ExteriorFeatures = append([]string(nil), p.Specs.ExteriorFeatures...)
		s.InteriorFeatures = append([]string(nil), p.Specs.InteriorFeatures...)
		s.SafetyAndTech = append([]string(nil), p.Specs.SafetyAndTech...)
		cp.Specs = &s
	}
	if p.Translations != nil {
		t := *p.Translations
		t.ExteriorFeaturesAR = append([]string(nil), p.Translations.ExteriorFeaturesAR...)
		t.InteriorFeaturesAR = append([]string(nil), p.Translations.InteriorFeaturesAR...)
		t.SafetyTechAR = append([]string(nil), p.Translations.SafetyTechAR...)
		cp.Translations = &t
	}
	if p.CarHistory != nil {
		h := *p.CarHistory
		cp.CarHistory = &h
	}
	return &cp
}
