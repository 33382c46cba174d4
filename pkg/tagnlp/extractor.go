// Package tagnlp extracts and classifies equipment tags from unstructured
// drawing and spreadsheet text using regex patterns and a phrase alias table.
// No external dependencies.
package tagnlp

import (
	"regexp"
	"strings"
)

// TagMatch represents an extracted equipment tag mention.
type TagMatch struct {
	Tag  string // matched tag text, e.g. "VFD-101"
	Type string // classified equipment type, e.g. "VFD"
	Span string // surrounding matched fragment
}

// tagPattern pairs a compiled tag regex with the equipment type it implies.
// Order matters: earlier patterns take precedence over the generic fallback.
type tagPattern struct {
	re  *regexp.Regexp
	typ string
}

var tagPatterns = []tagPattern{
	// RTU naming is the least consistent in the wild: RTU-D01, RTU F02,
	// RTU_123, RTU1A, RTU(S).
	{regexp.MustCompile(`\bRTU[-_ ]?[A-Z]\d{1,3}[A-Z]?\b`), "RTU"},
	{regexp.MustCompile(`\bRTU[-_]?\d{1,4}[A-Z]?\b`), "RTU"},
	{regexp.MustCompile(`\bRTU\([A-Z]\)`), "RTU"},
	{regexp.MustCompile(`\b(?:AHU|MAU|FCU)[-_ ]?[A-Z]?\d{1,4}[A-Z]?\b`), "AHU"},
	{regexp.MustCompile(`\bVAVE?[-_ ]?[A-Z]?\d{1,4}[A-Z]?\b`), "VAV"},
	{regexp.MustCompile(`\b(?:EF|SF|RF|FAN)[-_ ]?[A-Z]?\d{1,4}[A-Z]?\b`), "FAN"},
	{regexp.MustCompile(`\b(?:VFD|VSD|AFD)[-_ ]?\d{1,4}[A-Z]?\b`), "VFD"},
	{regexp.MustCompile(`\b(?:MOT|MTR|M)-\d{1,4}[A-Z]?\b`), "MOTOR"},
	{regexp.MustCompile(`\b(?:PMP|P)-\d{1,4}[A-Z]?\b`), "PUMP"},
	{regexp.MustCompile(`\b(?:BKR|CB|MCCB)[-_ ]?\d{1,4}[A-Z]?\b`), "BREAKER"},
	{regexp.MustCompile(`\b(?:RLY|CR)[-_ ]?\d{1,4}[A-Z]?\b`), "RELAY"},
	{regexp.MustCompile(`\b(?:PLC|DCS|PAC)[-_ ]?\d{1,4}[A-Z]?\b`), "PLC"},
	{regexp.MustCompile(`\b(?:TS|PS|FS|LS|PT|FT|LT|TT)-\d{1,4}[A-Z]?\b`), "SENSOR"},
	{regexp.MustCompile(`\b(?:CV|MOV|SOV|BV|GV)[-_ ]?\d{1,4}[A-Z]?\b`), "VALVE"},
	{regexp.MustCompile(`\b(?:MCC|SWG|PNL|DP|LP|MDP)[-_ ]?\d{1,4}[A-Z]?\b`), "PANEL"},
	{regexp.MustCompile(`\b(?:XFMR|TX)[-_ ]?\d{1,4}[A-Z]?\b`), "TRANSFORMER"},
	// TR and T require a hyphen to avoid matching free-standing codes.
	{regexp.MustCompile(`\bTR-\d{1,4}[A-Z]?\b`), "TRANSFORMER"},
	{regexp.MustCompile(`\bT-\d{1,4}[A-Z]?\b`), "TRANSFORMER"},
	{regexp.MustCompile(`\b(?:SW|HS|SS|DS)-\d{1,4}[A-Z]?\b`), "SWITCH"},
	{regexp.MustCompile(`\b(?:HMI|OIT|OIU)[-_ ]?\d{1,4}[A-Z]?\b`), "HMI"},
	{regexp.MustCompile(`\bUPS[-_ ]?\d{1,4}[A-Z]?\b`), "UPS"},
	{regexp.MustCompile(`\b(?:GEN|DG|EG)[-_ ]?\d{1,4}[A-Z]?\b`), "GENERATOR"},
	// Protective relays by ANSI device number: 50-1, 87T, 51G.
	{regexp.MustCompile(`\b(?:27|50|51|52|59|67|81|86|87)-\d{1,2}[A-Z]?\b`), "PROTECTIVE_RELAY"},
	{regexp.MustCompile(`\b(?:27|50|51|59|67|81|86|87)[A-Z]\b`), "PROTECTIVE_RELAY"},
	// Generic alphanumeric tag fallback; requires a separator.
	{regexp.MustCompile(`\b[A-Z]{2,5}[-_][A-Z]?\d{1,4}[A-Z]?\b`), "OTHER"},
}

// phraseAliases maps descriptive equipment phrases to canonical tag prefixes,
// so "Air Handler 1" can be compared against "AHU-1".
var phraseAliases = []struct {
	phrase string
	prefix string
}{
	{"air handling unit", "AHU"},
	{"air handler", "AHU"},
	{"makeup air unit", "MAU"},
	{"rooftop unit", "RTU"},
	{"variable frequency drive", "VFD"},
	{"variable speed drive", "VFD"},
	{"motor control center", "MCC"},
	{"motor control centre", "MCC"},
	{"exhaust fan", "EF"},
	{"supply fan", "SF"},
	{"return fan", "RF"},
	{"fan coil unit", "FCU"},
	{"circuit breaker", "CB"},
	{"control valve", "CV"},
	{"distribution panel", "DP"},
	{"lighting panel", "LP"},
	{"transformer", "TX"},
	{"generator", "GEN"},
	{"switchgear", "SWG"},
	{"pump", "P"},
	{"motor", "M"},
	{"fan", "FAN"},
}

var trailingNumber = regexp.MustCompile(`([A-Z]?\d{1,4}[A-Z]?)\s*$`)

// ClassifyTag returns the equipment type implied by a tag string, matching
// the whole tag. The generic fallback classifies unknown separator-delimited
// tags as OTHER.
func ClassifyTag(tag string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(tag))
	for _, p := range tagPatterns {
		loc := p.re.FindStringIndex(upper)
		if loc != nil && loc[0] == 0 && loc[1] == len(upper) {
			return p.typ, true
		}
	}
	return "", false
}

// CanonicalForm rewrites a descriptive phrase like "Air Handler 1" into its
// canonical tag form "AHU-1". Inputs that are already tag-shaped are
// returned uppercased and trimmed. The second return reports whether a
// phrase alias was applied.
func CanonicalForm(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)
	for _, a := range phraseAliases {
		if !strings.HasPrefix(lower, a.phrase) {
			continue
		}
		rest := strings.ToUpper(strings.TrimSpace(trimmed[len(a.phrase):]))
		if num := trailingNumber.FindString(rest); num != "" {
			return a.prefix + "-" + num, true
		}
		return a.prefix, true
	}
	return strings.ToUpper(trimmed), false
}

// ExtractTags finds all equipment tag mentions in free text. Longer and more
// specific patterns win; each text span is reported once.
func ExtractTags(text string) []TagMatch {
	upper := strings.ToUpper(text)
	var matches []TagMatch
	claimed := make([]bool, len(upper))

	for _, p := range tagPatterns {
		for _, loc := range p.re.FindAllStringIndex(upper, -1) {
			if overlaps(claimed, loc[0], loc[1]) {
				continue
			}
			for i := loc[0]; i < loc[1]; i++ {
				claimed[i] = true
			}
			matches = append(matches, TagMatch{
				Tag:  upper[loc[0]:loc[1]],
				Type: p.typ,
				Span: surrounding(upper, loc[0], loc[1]),
			})
		}
	}
	return matches
}

func overlaps(claimed []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if claimed[i] {
			return true
		}
	}
	return false
}

// surrounding returns up to 40 characters of context around a match.
func surrounding(s string, start, end int) string {
	from := start - 20
	if from < 0 {
		from = 0
	}
	to := end + 20
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}
