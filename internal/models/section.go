package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// SectionID is the correlation key joining records across stages. Models emit
// it as either a JSON number or a string; both decode to the same canonical
// string so domain code never branches on the wire representation.
type SectionID string

// UnmarshalJSON accepts a number, a string, or null.
func (s *SectionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*s = NormalizeSectionID(raw)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		// Booleans, objects and arrays carry no usable key; the record is kept
		// and later reported as uncorrelated.
		*s = ""
		return nil
	}
	*s = NormalizeSectionID(num.String())
	return nil
}

// JSONSchema advertises both accepted representations.
func (SectionID) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "integer"},
			{Type: "string"},
		},
		Description: "Identifier of the section this record was taken from",
	}
}

// Int returns the numeric value when the id is a positive integer.
func (s SectionID) Int() (int, bool) {
	n, err := strconv.Atoi(string(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (s SectionID) String() string { return string(s) }

// NormalizeSectionID canonicalises textual ids: surrounding whitespace and a
// leading '#' are removed and integral numbers lose leading zeros and any
// fractional ".0" so 3, "3", " 03 " and 3.0 compare equal.
func NormalizeSectionID(raw string) SectionID {
	v := strings.TrimSpace(raw)
	v = strings.TrimPrefix(v, "#")
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return SectionID(strconv.FormatInt(n, 10))
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return SectionID(strconv.FormatInt(int64(f), 10))
	}
	return SectionID(v)
}

// VulnerabilitySection is a candidate finding located by the parser stage.
// Line numbers are best-effort and 1-based.
type VulnerabilitySection struct {
	ID        SectionID `json:"id" jsonschema:"description=1-based section number unique within the report"`
	StartLine FlexInt   `json:"startLine" jsonschema:"description=First line of the section in the numbered report"`
	EndLine   FlexInt   `json:"endLine" jsonschema:"description=Last line of the section in the numbered report"`
	Title     string    `json:"title" jsonschema:"description=Finding title as written in the report"`
	Context   string    `json:"context" jsonschema:"description=One or two sentence summary of the finding"`
}

// ParserResponse is the JSON envelope expected from the parser agent.
type ParserResponse struct {
	Sections      []VulnerabilitySection `json:"sections" jsonschema:"description=Every finding section in document order"`
	TotalFindings FlexInt                `json:"totalFindings" jsonschema:"description=Number of findings the report claims to contain"`
	AuditScope    string                 `json:"auditScope,omitempty" jsonschema:"description=Short description of the audited system if stated"`
}

// FlexInt decodes integers that models sometimes quote. Unparseable values
// decode to zero.
type FlexInt int

// UnmarshalJSON accepts a number, a numeric string, or null.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(raw))
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// JSONSchema keeps the advertised type an integer.
func (FlexInt) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer"}
}
