package summary

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// FieldMapping records which activity columns carry the identity and
// free-text fields. An empty name means the column was not found.
// It is resolved once per run and consumed by every downstream step.
type FieldMapping struct {
	Creator     string
	FirstName   string
	LastName    string
	Description string
}

// HasNames reports whether both name columns are present.
func (m FieldMapping) HasNames() bool {
	return m.FirstName != "" && m.LastName != ""
}

// DiscoverFields matches column names case-insensitively against the known
// naming conventions. The first matching column wins for each field.
//
//   - creator:     contains "creator"
//   - first name:  contains "first" and "name"
//   - last name:   contains "last" and "name"
//   - description: contains "describe" or "briefly"
func DiscoverFields(columns []string) FieldMapping {
	var m FieldMapping
	for _, col := range columns {
		lc := strings.ToLower(col)
		if m.Creator == "" && strings.Contains(lc, "creator") {
			m.Creator = col
		}
		if m.FirstName == "" && strings.Contains(lc, "first") && strings.Contains(lc, "name") {
			m.FirstName = col
		}
		if m.LastName == "" && strings.Contains(lc, "last") && strings.Contains(lc, "name") {
			m.LastName = col
		}
		if m.Description == "" && (strings.Contains(lc, "describe") || strings.Contains(lc, "briefly")) {
			m.Description = col
		}
	}
	return m
}

// Diagnostics returns operator-facing notes about missing fields.
func (m FieldMapping) Diagnostics() []string {
	var out []string
	switch {
	case m.HasNames():
	case m.Creator != "":
		if m.FirstName != "" || m.LastName != "" {
			out = append(out, "only one of first/last name columns found; identifying individuals by creator")
		}
	default:
		out = append(out, "no name or creator column found; every individual is reported as Unknown")
	}
	if m.Description == "" {
		out = append(out, "no description column found; word cloud will be empty")
	}
	return out
}

// Record resolves a raw activity into an ActivityRecord using the mapping.
func (m FieldMapping) Record(raw RawActivity) ActivityRecord {
	rec := ActivityRecord{
		ID:          raw.ID,
		Description: m.value(raw, m.Description),
		Creator:     m.value(raw, m.Creator),
		FirstName:   m.value(raw, m.FirstName),
		LastName:    m.value(raw, m.LastName),
	}
	if p, ok := raw.Geometry.(orb.Point); ok {
		rec.Location = p
		rec.Located = true
	}
	return rec
}

func (m FieldMapping) value(raw RawActivity, col string) string {
	if col == "" {
		return ""
	}
	v, ok := Attribute(raw.Attributes[col])
	if !ok {
		return ""
	}
	return v
}

// Attribute renders an attribute value as a string. It reports false for
// null values and for the stringified nulls ("nan", "None") that feature
// exports tend to leak.
func Attribute(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s = t
	case []byte:
		s = string(t)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	if IsBlank(s) {
		return "", false
	}
	return s, true
}

// IsBlank reports whether s is empty, whitespace, or a stringified null.
func IsBlank(s string) bool {
	t := strings.TrimSpace(s)
	return t == "" || strings.EqualFold(t, "nan") || t == "None"
}
