package permit

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNoPermitNumber reports a raw record with no usable id under any of the
// configured candidate fields. Such records are skipped, not fatal.
var ErrNoPermitNumber = errors.New("no permit number field present")

// FieldMap declares ordered candidate field names per Permit attribute.
// Sources disagree on naming, so each attribute is probed in order and the
// first non-empty value wins. All lists are explicit configuration; there is
// no runtime reflection.
type FieldMap struct {
	ID      []string `json:"id" mapstructure:"id"`
	Address []string `json:"address" mapstructure:"address"`
	Type    []string `json:"type" mapstructure:"type"`
	Value   []string `json:"value" mapstructure:"value"`
	Date    []string `json:"date" mapstructure:"date"`
	Status  []string `json:"status" mapstructure:"status"`
}

// DefaultFieldMap covers the field names seen across municipal open-data
// portals (ArcGIS, Socrata, Accela exports).
func DefaultFieldMap() FieldMap {
	return FieldMap{
		ID:      []string{"permit_number", "PERMIT_No", "PERMIT_ID", "Permit_ID", "permit_id", "OBJECTID", "OBJECTID_1", "ID"},
		Address: []string{"address", "ADDRESS", "Address", "original_address1", "SITE_ADDR"},
		Type:    []string{"permit_type", "PERMIT_TYPE", "Permit_Type", "permit_type_desc", "TYPE", "Type"},
		Value:   []string{"value", "VALUE", "total_valuation", "EST_COST", "valuation"},
		Date:    []string{"issued_date", "ISSUE_DATE", "issue_date", "PERMIT_DATE", "Permit_Date", "ISSUED_DATE", "date_issued"},
		Status:  []string{"status", "Status", "STATUS", "status_current", "PERMIT_STATUS"},
	}
}

// Merge fills empty candidate lists from fallback, keeping configured lists.
func (m FieldMap) Merge(fallback FieldMap) FieldMap {
	pick := func(a, b []string) []string {
		if len(a) > 0 {
			return a
		}
		return b
	}
	return FieldMap{
		ID:      pick(m.ID, fallback.ID),
		Address: pick(m.Address, fallback.Address),
		Type:    pick(m.Type, fallback.Type),
		Value:   pick(m.Value, fallback.Value),
		Date:    pick(m.Date, fallback.Date),
		Status:  pick(m.Status, fallback.Status),
	}
}

// Extract probes attrs with the candidate lists and builds a Permit.
// Missing date and status fall back to the "unknown" sentinel; an
// unparsable value becomes 0. Only a missing id is an error.
func (m FieldMap) Extract(attrs map[string]any) (Permit, error) {
	id := firstString(attrs, m.ID)
	if id == "" {
		return Permit{}, ErrNoPermitNumber
	}
	p := Permit{
		PermitNumber: id,
		Address:      firstString(attrs, m.Address),
		Type:         firstString(attrs, m.Type),
		Value:        ParseValue(firstRaw(attrs, m.Value)),
		IssuedDate:   NormalizeDate(firstRaw(attrs, m.Date)),
		Status:       firstString(attrs, m.Status),
	}
	if p.Status == "" {
		p.Status = Unknown
	}
	return p, nil
}

func firstRaw(attrs map[string]any, candidates []string) any {
	for _, key := range candidates {
		if v, ok := attrs[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(attrs map[string]any, candidates []string) string {
	for _, key := range candidates {
		v, ok := attrs[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(toString(v))
		if s != "" {
			return s
		}
	}
	return ""
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// ParseValue converts a raw valuation field to a float64, stripping currency
// formatting. Unparsable input yields 0.
func ParseValue(raw any) float64 {
	switch t := raw.(type) {
	case nil:
		return 0
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(t, "$", ""), ",", ""))
		if cleaned == "" {
			return 0
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// NormalizeDate converts epoch-millisecond numbers and the date string
// formats seen in the wild to YYYY-MM-DD, or the "unknown" sentinel.
func NormalizeDate(raw any) string {
	switch t := raw.(type) {
	case nil:
		return Unknown
	case float64:
		return epochMillisDate(int64(t))
	case int64:
		return epochMillisDate(t)
	case int:
		return epochMillisDate(int64(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return Unknown
		}
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.Format("2006-01-02")
			}
		}
		// ArcGIS occasionally returns epoch millis as a string.
		if millis, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochMillisDate(millis)
		}
		return Unknown
	default:
		return Unknown
	}
}

func epochMillisDate(millis int64) string {
	if millis <= 0 {
		return Unknown
	}
	return time.UnixMilli(millis).UTC().Format("2006-01-02")
}

var stateToken = regexp.MustCompile(`\b([A-Z]{2})\b`)

var knownStates = map[string]struct{}{
	"AL": {}, "AK": {}, "AZ": {}, "AR": {}, "CA": {}, "CO": {}, "CT": {}, "DE": {},
	"FL": {}, "GA": {}, "HI": {}, "ID": {}, "IL": {}, "IN": {}, "IA": {}, "KS": {},
	"KY": {}, "LA": {}, "ME": {}, "MD": {}, "MA": {}, "MI": {}, "MN": {}, "MS": {},
	"MO": {}, "MT": {}, "NE": {}, "NV": {}, "NH": {}, "NJ": {}, "NM": {}, "NY": {},
	"NC": {}, "ND": {}, "OH": {}, "OK": {}, "OR": {}, "PA": {}, "RI": {}, "SC": {},
	"SD": {}, "TN": {}, "TX": {}, "UT": {}, "VT": {}, "VA": {}, "WA": {}, "WV": {},
	"WI": {}, "WY": {},
}

// AddressInState reports whether address plausibly belongs to the expected
// two-letter state. Addresses carrying no recognizable state token pass;
// only an explicit different state is rejected. An empty expected state
// disables the check.
func AddressInState(address, state string) bool {
	if state == "" {
		return true
	}
	expected := strings.ToUpper(state)
	found := false
	for _, match := range stateToken.FindAllString(strings.ToUpper(address), -1) {
		if _, known := knownStates[match]; !known {
			continue
		}
		if match == expected {
			return true
		}
		found = true
	}
	return !found
}
