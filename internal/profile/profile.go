package profile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Well-known profile fields
const (
	FieldCustomerID       = "customer_id"
	FieldName             = "name"
	FieldFirstName        = "first_name"
	FieldLastName         = "last_name"
	FieldAge              = "age"
	FieldAccountBalance   = "account_balance"
	FieldDigitalLogins    = "digital_logins_per_month"
	FieldMobileAppUsage   = "mobile_app_usage"
	FieldRecentLifeEvents = "recent_life_events"
	FieldLanguage         = "preferred_language"
	FieldAccessibility    = "accessibility_needs"
	FieldEmployment       = "employment_status"
	FieldYearsWithBank    = "years_with_bank"
	FieldLifeStage        = "life_stage"
)

// KnownFields are reported as data gaps when absent
var KnownFields = []string{
	FieldName, FieldAge, FieldAccountBalance, FieldDigitalLogins, FieldMobileAppUsage,
	FieldRecentLifeEvents, FieldLanguage, FieldAccessibility, FieldEmployment, FieldYearsWithBank,
}

// Profile is a customer record with sentinel values removed.
// Absent fields, empty strings and placeholders like "None" or "unknown" are all "not provided".
type Profile struct {
	fields map[string]string
}

// New normalizes a raw field mapping
func New(raw map[string]interface{}) Profile {
	p := Profile{fields: make(map[string]string, len(raw))}
	for k, v := range raw {
		s, ok := stringify(v)
		if !ok || IsSentinel(s) {
			continue
		}
		p.fields[strings.ToLower(strings.TrimSpace(k))] = s
	}
	return p
}

// IsSentinel reports whether a value means "not provided"
func IsSentinel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "null", "nil", "unknown", "n/a", "na", "not provided", "-":
		return true
	}
	return false
}

func stringify(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := stringify(item); ok && !IsSentinel(s) {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), len(parts) > 0
	case []string:
		return strings.Join(t, ", "), len(t) > 0
	default:
		return fmt.Sprintf("%v", t), true
	}
}

// UnmarshalJSON decodes a JSON object into a normalized profile
func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid customer profile: %w", err)
	}
	*p = New(raw)
	return nil
}

// MarshalJSON encodes the provided fields only
func (p Profile) MarshalJSON() ([]byte, error) {
	if p.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.fields)
}

// Get returns a provided field
func (p Profile) Get(key string) (string, bool) {
	v, ok := p.fields[key]
	return v, ok
}

// Has reports whether a field was provided
func (p Profile) Has(key string) bool {
	_, ok := p.fields[key]
	return ok
}

// Int returns a numeric field truncated to an int
func (p Profile) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	return int(f), ok
}

// Float returns a numeric field. Currency symbols and thousands separators are ignored.
func (p Profile) Float(key string) (float64, bool) {
	v, ok := p.fields[key]
	if !ok {
		return 0, false
	}
	clean := strings.NewReplacer("£", "", "$", "", "€", "", ",", "", " ", "").Replace(v)
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ID returns the customer identifier or an empty string
func (p Profile) ID() string {
	if v, ok := p.fields[FieldCustomerID]; ok {
		return v
	}
	return p.fields["id"]
}

// Name returns the customer's full name if known
func (p Profile) Name() string {
	if v, ok := p.fields[FieldName]; ok {
		return v
	}
	parts := make([]string, 0, 2)
	if v, ok := p.fields[FieldFirstName]; ok {
		parts = append(parts, v)
	}
	if v, ok := p.fields[FieldLastName]; ok {
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}

// FirstName returns the first token of the customer's name
func (p Profile) FirstName() string {
	if v, ok := p.fields[FieldFirstName]; ok {
		return v
	}
	parts := p.NameParts()
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// NameParts tokenizes the customer's name, dropping titles
func (p Profile) NameParts() []string {
	var parts []string
	for _, tok := range strings.Fields(p.Name()) {
		tok = strings.Trim(tok, ".,")
		switch strings.ToLower(tok) {
		case "mr", "mrs", "ms", "miss", "dr", "mx", "prof", "":
			continue
		}
		parts = append(parts, tok)
	}
	return parts
}

// Fields returns a copy of the provided fields
func (p Profile) Fields() map[string]string {
	out := make(map[string]string, len(p.fields))
	for k, v := range p.fields {
		out[k] = v
	}
	return out
}

// Keys returns the provided field names, sorted
func (p Profile) Keys() []string {
	keys := make([]string, 0, len(p.fields))
	for k := range p.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of provided fields
func (p Profile) Len() int {
	return len(p.fields)
}
