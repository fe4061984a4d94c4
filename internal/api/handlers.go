package api

import (
	"fmt"
	"strings"

	auditv1 "github.com/miradorstack/mirador-audit/internal/grpc/auditv1"
	"github.com/miradorstack/mirador-audit/internal/models"
)

// FromProtoExtractRequest maps the gRPC request into a domain ExtractionRequest.
func FromProtoExtractRequest(req *auditv1.ExtractRequest) (models.ExtractionRequest, error) {
	if req == nil {
		return models.ExtractionRequest{}, fmt.Errorf("request is nil")
	}
	if strings.TrimSpace(req.ReportText) == "" {
		return models.ExtractionRequest{}, fmt.Errorf("report_text is required")
	}

	var tags []string
	for _, tag := range req.AllowedTags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return models.ExtractionRequest{
		ReportText:  req.ReportText,
		AllowedTags: tags,
		Examples:    req.ExampleVulnerabilities,
	}, nil
}

// ToProtoExtractResponse converts a run result into the gRPC representation.
func ToProtoExtractResponse(res models.PipelineResult) *auditv1.ExtractResponse {
	proto := &auditv1.ExtractResponse{
		RunId:          res.RunID,
		Outcome:        string(res.Outcome),
		Findings:       make([]*auditv1.Finding, 0, len(res.Findings)),
		TotalFindings:  int32(res.TotalFindings),
		AuditScope:     res.AuditScope,
		SeverityCounts: make(map[string]int32),
		StartedAt:      auditv1.NewTimestamp(res.StartedAt),
		Duration:       auditv1.NewDuration(res.Duration),
	}
	for _, f := range res.Findings {
		proto.Findings = append(proto.Findings, toProtoFinding(f))
	}
	for sev, n := range res.SeverityCounts() {
		proto.SeverityCounts[string(sev)] = int32(n)
	}
	for _, d := range res.Diagnostics {
		proto.Diagnostics = append(proto.Diagnostics, &auditv1.Diagnostic{Stage: string(d.Stage), Message: d.Message})
	}
	for _, st := range res.Stages {
		proto.Stages = append(proto.Stages, &auditv1.StageReport{
			Stage:     string(st.Stage),
			Attempts:  int32(st.Attempts),
			Items:     int32(st.Items),
			ErrorKind: st.ErrorKind,
			Duration:  auditv1.NewDuration(st.Duration),
		})
	}
	return proto
}

func toProtoFinding(f models.Finding) *auditv1.Finding {
	proto := &auditv1.Finding{
		SectionId:      string(f.SectionID),
		Title:          f.Title,
		Description:    f.Description,
		Impact:         f.Impact,
		Recommendation: f.Recommendation,
		Location:       f.Location,
		Links:          append([]string(nil), f.Links...),
		Severity:       string(f.Severity),
		Tags:           append([]string{}, f.Tags...),
		Category:       int32(f.Category),
		CategoryName:   f.Category.String(),
		Status:         string(f.Status),
	}
	for _, cb := range f.CodeBlocks {
		proto.CodeBlocks = append(proto.CodeBlocks, &auditv1.CodeBlock{Language: cb.Language, Code: cb.Code})
	}
	return proto
}
