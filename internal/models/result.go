package models

import "time"

// Stage names a step of an extraction run.
type Stage string

const (
	StageParser     Stage = "parser"
	StageExtractor  Stage = "extractor"
	StageClassifier Stage = "classifier"
	StageReconcile  Stage = "reconcile"
)

// ItemStatus records how completely a finding was processed.
type ItemStatus string

const (
	StatusComplete            ItemStatus = "complete"
	StatusPartiallyClassified ItemStatus = "partially_classified"
	StatusCorrelationFailed   ItemStatus = "correlation_failed"
)

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Finding is a merged vulnerability with its processing status.
type Finding struct {
	ClassifiedVulnerability
	Status ItemStatus `json:"status"`
}

// Diagnostic describes a degradation observed during a run.
type Diagnostic struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// StageReport summarises one stage execution.
type StageReport struct {
	Stage     Stage         `json:"stage"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	Items     int           `json:"items"`
	ErrorKind string        `json:"errorKind,omitempty"`
}

// ExtractionRequest is the input of one run. Examples is an opaque block of
// previously classified findings shown to the classifier.
type ExtractionRequest struct {
	ReportText  string
	AllowedTags []string
	Examples    string
}

// PipelineResult is everything a run produced. Error is a bounded message
// set when Outcome is not done.
type PipelineResult struct {
	RunID         string        `json:"runId"`
	Outcome       Outcome       `json:"outcome"`
	FailedStage   Stage         `json:"failedStage,omitempty"`
	Error         string        `json:"error,omitempty"`
	Findings      []Finding     `json:"findings"`
	Diagnostics   []Diagnostic  `json:"diagnostics"`
	TotalFindings int           `json:"totalFindings"`
	AuditScope    string        `json:"auditScope,omitempty"`
	Stages        []StageReport `json:"stages"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`
}

// SeverityCounts tallies findings per severity.
func (r PipelineResult) SeverityCounts() map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}

// StatusCounts tallies findings per item status.
func (r PipelineResult) StatusCounts() map[ItemStatus]int {
	counts := make(map[ItemStatus]int, 3)
	for _, f := range r.Findings {
		counts[f.Status]++
	}
	return counts
}
