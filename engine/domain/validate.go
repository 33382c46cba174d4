package domain

import (
	"strings"
)

// factKeyFields names the payload field that acts as the logical key for
// each fact type. Facts sharing a logical key supersede each other;
// latest created_at wins at profile-build time.
var factKeyFields = map[FactType]string{
	FactIOPoint:       "point_name",
	FactAlarm:         "alarm_name",
	FactSequence:      "mode",
	FactScheduleEntry: "entry_name",
	// FactSpecification has no single key; spec payloads merge field-wise.
}

// FactLogicalKey returns the logical key of a fact, or "" when the fact
// type does not key its payloads.
func FactLogicalKey(f Fact) string {
	field, ok := factKeyFields[f.Type]
	if !ok {
		return ""
	}
	if v, ok := f.Payload[field].(string); ok {
		return strings.ToUpper(strings.TrimSpace(v))
	}
	return ""
}

// ValidateFactCandidate checks a fact candidate's variant-specific payload
// shape before it is trusted. Payloads are dynamic JSON; each data type
// requires its key field to be a non-empty string.
func ValidateFactCandidate(c FactCandidate) error {
	if !ValidFactTypes[c.DataType] {
		return NewValidationError("data_type", string(c.DataType), ErrInvalidFact)
	}
	if len(c.Payload) == 0 {
		return NewValidationError("payload", "", ErrInvalidFact)
	}
	field, keyed := factKeyFields[c.DataType]
	if !keyed {
		return nil
	}
	v, ok := c.Payload[field].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return NewValidationError("payload."+field, "", ErrInvalidFact)
	}
	return nil
}

// ValidateRelationshipCandidate checks the structural parts of an edge
// candidate that struct tags cannot express.
func ValidateRelationshipCandidate(c RelationshipCandidate) error {
	if !ValidEdgeTypes[c.Type] {
		return NewValidationError("type", string(c.Type), ErrInvalidEdge)
	}
	if !ValidEdgeCategories[c.Category] {
		return NewValidationError("category", string(c.Category), ErrInvalidEdge)
	}
	if NormalizeTag(c.SourceTagRaw) == NormalizeTag(c.TargetTagRaw) {
		return NewValidationError("target_tag_raw", c.TargetTagRaw, ErrInvalidEdge)
	}
	return nil
}

// NormalizeTag canonicalises a raw tag for comparison: uppercase with
// separator characters removed. "RTU-F04" and "rtu f04" normalize equally.
func NormalizeTag(tag string) string {
	var b strings.Builder
	b.Grow(len(tag))
	for _, r := range strings.ToUpper(tag) {
		switch r {
		case '-', '_', ' ', '.', '/', '\t':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
