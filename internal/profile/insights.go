package profile

import (
	"fmt"
	"strings"
)

// Life stage buckets
const (
	LifeStageStudent           = "student"
	LifeStageYoungProfessional = "young_professional"
	LifeStageYoungFamily       = "young_family"
	LifeStageEstablished       = "established"
	LifeStagePreRetirement     = "pre_retirement"
	LifeStageRetirement        = "retirement"
)

// Digital personas
const (
	PersonaAppNative   = "app_native"
	PersonaHybrid      = "hybrid_user"
	PersonaTraditional = "traditional_preferred"
)

// Financial profiles
const (
	FinancialPremium  = "premium"
	FinancialStandard = "standard_saver"
	FinancialBudget   = "budget_conscious"
)

// Insights are demographic signals derived from a profile. Empty strings mean "unknown".
type Insights struct {
	Segment            string   `json:"segment"`
	LifeStage          string   `json:"life_stage"`
	FinancialProfile   string   `json:"financial_profile"`
	DigitalPersona     string   `json:"digital_persona"`
	CommunicationStyle string   `json:"communication_style"`
	VerifiedFacts      []string `json:"verified_facts"`
	DataGaps           []string `json:"data_gaps"`
}

// Derive computes insights deterministically from provided fields only
func Derive(p Profile) Insights {
	ins := Insights{
		Segment:          segment(p),
		LifeStage:        lifeStage(p),
		FinancialProfile: financialProfile(p),
		DigitalPersona:   digitalPersona(p),
	}

	switch ins.DigitalPersona {
	case PersonaAppNative:
		ins.CommunicationStyle = "concise"
	case PersonaTraditional:
		ins.CommunicationStyle = "formal"
	default:
		ins.CommunicationStyle = "friendly"
	}

	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		ins.VerifiedFacts = append(ins.VerifiedFacts, fmt.Sprintf("%s: %s", k, v))
	}
	for _, k := range KnownFields {
		if k == FieldName && p.Name() != "" {
			continue
		}
		if !p.Has(k) {
			ins.DataGaps = append(ins.DataGaps, k)
		}
	}
	return ins
}

func segment(p Profile) string {
	logins, ok := p.Int(FieldDigitalLogins)
	if !ok {
		return ""
	}
	switch {
	case logins > 20:
		return "DIGITAL"
	case logins > 5:
		return "ASSISTED"
	default:
		return "TRADITIONAL"
	}
}

var lifeStageSynonyms = map[string]string{
	"students":                 LifeStageStudent,
	"university_student":       LifeStageStudent,
	"undergraduate":            LifeStageStudent,
	"postgraduate":             LifeStageStudent,
	"young_professionals":      LifeStageYoungProfessional,
	"early_career":             LifeStageYoungProfessional,
	"graduate":                 LifeStageYoungProfessional,
	"young_adult":              LifeStageYoungProfessional,
	"family":                   LifeStageYoungFamily,
	"young_families":           LifeStageYoungFamily,
	"young_parent":             LifeStageYoungFamily,
	"new_parent":               LifeStageYoungFamily,
	"new_parents":              LifeStageYoungFamily,
	"mid_career":               LifeStageEstablished,
	"established_professional": LifeStageEstablished,
	"middle_aged":              LifeStageEstablished,
	"near_retirement":          LifeStagePreRetirement,
	"nearing_retirement":       LifeStagePreRetirement,
	"preretirement":            LifeStagePreRetirement,
	"retired":                  LifeStageRetirement,
	"retiree":                  LifeStageRetirement,
	"retirees":                 LifeStageRetirement,
	"pensioner":                LifeStageRetirement,
	"retirement_age":           LifeStageRetirement,
}

// normalizeLifeStage maps a free-form life stage onto the LifeStage constants.
// Values with no known spelling are kept in snake case.
func normalizeLifeStage(v string) string {
	key := strings.ToLower(strings.TrimSpace(v))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if stage, ok := lifeStageSynonyms[key]; ok {
		return stage
	}
	return key
}

func lifeStage(p Profile) string {
	if v, ok := p.Get(FieldLifeStage); ok {
		return normalizeLifeStage(v)
	}

	employment, _ := p.Get(FieldEmployment)
	employment = strings.ToLower(employment)
	switch {
	case strings.Contains(employment, "student"):
		return LifeStageStudent
	case strings.Contains(employment, "retired"):
		return LifeStageRetirement
	}

	age, hasAge := p.Int(FieldAge)
	events, _ := p.Get(FieldRecentLifeEvents)
	events = strings.ToLower(events)
	for _, marker := range []string{"baby", "child", "married", "wedding", "first home", "new home"} {
		if strings.Contains(events, marker) && (!hasAge || age < 45) {
			return LifeStageYoungFamily
		}
	}

	if !hasAge {
		return ""
	}
	switch {
	case age < 35:
		return LifeStageYoungProfessional
	case age < 55:
		return LifeStageEstablished
	case age < 65:
		return LifeStagePreRetirement
	default:
		return LifeStageRetirement
	}
}

func financialProfile(p Profile) string {
	balance, ok := p.Float(FieldAccountBalance)
	if !ok {
		return ""
	}
	switch {
	case balance > 20000:
		return FinancialPremium
	case balance < 1000:
		return FinancialBudget
	default:
		return FinancialStandard
	}
}

func digitalPersona(p Profile) string {
	usage, hasUsage := p.Get(FieldMobileAppUsage)
	usage = strings.ToLower(usage)
	logins, hasLogins := p.Int(FieldDigitalLogins)
	if !hasUsage && !hasLogins {
		return ""
	}
	switch {
	case logins > 20, strings.Contains(usage, "daily"), strings.Contains(usage, "high"):
		return PersonaAppNative
	case logins > 5, strings.Contains(usage, "weekly"), strings.Contains(usage, "medium"):
		return PersonaHybrid
	default:
		return PersonaTraditional
	}
}
