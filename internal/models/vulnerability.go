package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// CodeBlock is a fenced snippet lifted from a finding.
type CodeBlock struct {
	Language string `json:"language" jsonschema:"description=Language hint from the fence, empty if none"`
	Code     string `json:"code" jsonschema:"description=Snippet copied verbatim"`
}

// RawVulnerability is one finding as extracted from a section, before any
// severity or tag assignment. Description keeps code fences and links intact.
type RawVulnerability struct {
	SectionID      SectionID   `json:"sectionId"`
	Title          string      `json:"title" jsonschema:"description=Finding title"`
	Description    string      `json:"description" jsonschema:"description=Full description copied verbatim including code fences and links"`
	Impact         string      `json:"impact" jsonschema:"description=Stated impact or empty"`
	Recommendation string      `json:"recommendation" jsonschema:"description=Stated remediation or empty"`
	Location       string      `json:"location" jsonschema:"description=Files, contracts or functions affected"`
	CodeBlocks     []CodeBlock `json:"codeBlocks,omitempty"`
	Links          StringList  `json:"links,omitempty" jsonschema:"description=URLs referenced by the finding in order"`
}

// ExtractorResponse is the JSON envelope expected from the extractor agent.
type ExtractorResponse struct {
	Vulnerabilities []RawVulnerability `json:"vulnerabilities"`
}

// Severity captures impact levels.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityNote     Severity = "note"
)

// Severities lists the accepted levels from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityNote}

// ParseSeverity lowercases s and maps common aliases. The boolean is false
// when the value is unrecognised, in which case SeverityMedium is returned.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, true
	case "high":
		return SeverityHigh, true
	case "medium", "moderate":
		return SeverityMedium, true
	case "low":
		return SeverityLow, true
	case "note", "info", "informational", "gas", "qa":
		return SeverityNote, true
	default:
		return SeverityMedium, false
	}
}

// Category records the audited team's response to a finding.
type Category int

const (
	CategoryValid               Category = 0
	CategoryValidNotFixed       Category = 1
	CategoryValidPartiallyFixed Category = 2
	CategoryInvalid             Category = 3
	CategoryUnknown             Category = 100
)

func (c Category) String() string {
	switch c {
	case CategoryValid:
		return "Valid"
	case CategoryValidNotFixed:
		return "ValidNotFixed"
	case CategoryValidPartiallyFixed:
		return "ValidPartiallyFixed"
	case CategoryInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// ParseCategory accepts the numeric code or the name. Anything else is
// CategoryUnknown.
func ParseCategory(raw string) Category {
	v := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(v); err == nil {
		switch c := Category(n); c {
		case CategoryValid, CategoryValidNotFixed, CategoryValidPartiallyFixed, CategoryInvalid:
			return c
		}
		return CategoryUnknown
	}
	switch strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(v)) {
	case "valid", "fixed":
		return CategoryValid
	case "validnotfixed", "acknowledged", "notfixed":
		return CategoryValidNotFixed
	case "validpartiallyfixed", "partiallyfixed":
		return CategoryValidPartiallyFixed
	case "invalid":
		return CategoryInvalid
	default:
		return CategoryUnknown
	}
}

// UnmarshalJSON accepts a number, a numeric string or a category name.
func (c *Category) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*c = ParseCategory(raw)
		return nil
	}
	*c = ParseCategory(string(data))
	return nil
}

// JSONSchema lists the accepted codes.
func (Category) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "integer",
		Enum: []any{0, 1, 2, 3, 100},
	}
}

// StringList decodes either a JSON array of strings or a single
// comma-separated string.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}

// JSONSchema keeps the advertised type an array of strings.
func (StringList) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}}
}

// Classification is the per-finding verdict expected from the classifier agent.
type Classification struct {
	SectionID SectionID  `json:"sectionId"`
	Title     string     `json:"title" jsonschema:"description=Title of the classified finding"`
	Severity  string     `json:"severity" jsonschema:"enum=critical,enum=high,enum=medium,enum=low,enum=note"`
	Tags      StringList `json:"tags" jsonschema:"description=One to three tags taken from the allowed list"`
	Category  *Category  `json:"category,omitempty"`
}

// ClassifierResponse is the JSON envelope expected from the classifier agent.
type ClassifierResponse struct {
	Vulnerabilities []Classification `json:"vulnerabilities"`
}

// ClassifiedVulnerability is a raw finding annotated with severity, tags and
// category.
type ClassifiedVulnerability struct {
	RawVulnerability
	Severity Severity `json:"severity"`
	Tags     []string `json:"tags"`
	Category Category `json:"category"`
}

// DefaultClassification returns raw with the fallback annotations used when
// classification is unavailable.
func DefaultClassification(raw RawVulnerability) ClassifiedVulnerability {
	return ClassifiedVulnerability{
		RawVulnerability: raw,
		Severity:         SeverityMedium,
		Tags:             []string{},
		Category:         CategoryUnknown,
	}
}
