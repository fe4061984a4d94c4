// Package auditv1 declares the mirador.audit.v1 gRPC contract. Messages are
// plain Go structs exchanged with the JSON codec registered by this package.
package auditv1

// ExtractRequest asks for one extraction run over a report.
type ExtractRequest struct {
	ReportText             string   `json:"reportText"`
	AllowedTags            []string `json:"allowedTags,omitempty"`
	ExampleVulnerabilities string   `json:"exampleVulnerabilities,omitempty"`
}

func (r *ExtractRequest) GetReportText() string {
	if r == nil {
		return ""
	}
	return r.ReportText
}

// CodeBlock is a fenced snippet from a finding.
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// Finding is one reconciled vulnerability.
type Finding struct {
	SectionId      string       `json:"sectionId"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Impact         string       `json:"impact,omitempty"`
	Recommendation string       `json:"recommendation,omitempty"`
	Location       string       `json:"location,omitempty"`
	CodeBlocks     []*CodeBlock `json:"codeBlocks,omitempty"`
	Links          []string     `json:"links,omitempty"`
	Severity       string       `json:"severity"`
	Tags           []string     `json:"tags"`
	Category       int32        `json:"category"`
	CategoryName   string       `json:"categoryName"`
	Status         string       `json:"status"`
}

// Diagnostic is a non-fatal note about a run.
type Diagnostic struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// StageReport summarises one stage execution.
type StageReport struct {
	Stage     string               `json:"stage"`
	Attempts  int32                `json:"attempts"`
	Items     int32                `json:"items"`
	ErrorKind string    `json:"errorKind,omitempty"`
	Duration  *Duration `json:"duration,omitempty"`
}

// ExtractResponse is the result of a completed run.
type ExtractResponse struct {
	RunId          string           `json:"runId"`
	Outcome        string           `json:"outcome"`
	Findings       []*Finding       `json:"findings"`
	Diagnostics    []*Diagnostic    `json:"diagnostics,omitempty"`
	TotalFindings  int32            `json:"totalFindings"`
	AuditScope     string           `json:"auditScope,omitempty"`
	SeverityCounts map[string]int32 `json:"severityCounts,omitempty"`
	Stages         []*StageReport   `json:"stages,omitempty"`
	StartedAt      *Timestamp       `json:"startedAt,omitempty"`
	Duration       *Duration        `json:"duration,omitempty"`
}
