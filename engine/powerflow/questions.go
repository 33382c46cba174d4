package powerflow

import (
	"regexp"
	"strings"
)

// RelationshipKind classifies the relationship a natural-language question
// is asking about, so the query layer can route it to the right traversal.
type RelationshipKind string

const (
	KindPowerFlow  RelationshipKind = "power_flow"
	KindUpstream   RelationshipKind = "upstream"
	KindDownstream RelationshipKind = "downstream"
	KindControl    RelationshipKind = "control"
	KindInterlock  RelationshipKind = "interlock"
	KindConnection RelationshipKind = "connection"
)

// questionPatterns is ordered: the first match wins, so the specific forms
// precede the generic connection fallback.
var questionPatterns = []struct {
	re   *regexp.Regexp
	kind RelationshipKind
}{
	{regexp.MustCompile(`(?i)\bwhat\s+(is\s+)?(feeds?|powers?|supplie[sd])\b.*\bfrom\b`), KindUpstream},
	{regexp.MustCompile(`(?i)\b(fed|powered|supplied)\s+(by|from)\b`), KindUpstream},
	{regexp.MustCompile(`(?i)\bwhere\s+does\b.*\b(get|receive)s?\b.*\b(power|supply)\b`), KindUpstream},
	{regexp.MustCompile(`(?i)\bupstream\b`), KindUpstream},
	{regexp.MustCompile(`(?i)\bwhat\s+does\b.*\b(feed|power|supply|serve)\b`), KindDownstream},
	{regexp.MustCompile(`(?i)\bdownstream\b`), KindDownstream},
	{regexp.MustCompile(`(?i)\b(load|loads)\s+(on|of|served)\b`), KindDownstream},
	{regexp.MustCompile(`(?i)\b(controls?|controlled\s+by|start\/?stop|commands?)\b`), KindControl},
	{regexp.MustCompile(`(?i)\binterlock(s|ed)?\b`), KindInterlock},
	{regexp.MustCompile(`(?i)\b(power\s*flow|power\s*chain|one.?line|single.?line)\b`), KindPowerFlow},
	{regexp.MustCompile(`(?i)\b(feeds?|powers?|supplies)\b`), KindPowerFlow},
	{regexp.MustCompile(`(?i)\b(connect(s|ed|ion)?|wired|hooked)\b`), KindConnection},
}

// DetectRelationshipKind inspects a free-text question and reports the
// relationship class it asks about, if any.
func DetectRelationshipKind(question string) (RelationshipKind, bool) {
	q := strings.TrimSpace(question)
	if q == "" {
		return "", false
	}
	for _, p := range questionPatterns {
		if p.re.MatchString(q) {
			return p.kind, true
		}
	}
	return "", false
}
