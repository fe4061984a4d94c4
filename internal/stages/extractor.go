package stages

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/miradorstack/mirador-audit/internal/agent"
	"github.com/miradorstack/mirador-audit/internal/models"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

const (
	// excerptPadding widens each line range since parser line numbers are approximate.
	excerptPadding  = 2
	maxExcerptBytes = 12000
)

// ExtractorPayload is the user message sent to the extractor agent. Report
// carries the whole text only when a section has no usable line range.
type ExtractorPayload struct {
	Sections []SectionPayload `json:"sections"`
	Report   string           `json:"report,omitempty"`
}

// SectionPayload is one section with its excerpt of the report.
type SectionPayload struct {
	ID      models.SectionID `json:"id"`
	Title   string           `json:"title"`
	Context string           `json:"context"`
	Excerpt string           `json:"excerpt,omitempty"`
}

// Extractor pulls full finding details out of parsed sections.
type Extractor struct {
	invoker Invoker
	logger  *slog.Logger
}

// NewExtractor constructs an Extractor.
func NewExtractor(invoker Invoker, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{invoker: invoker, logger: logger}
}

// Extract returns every finding the agent found in sections. Records are
// kept whatever their sectionId; correlation happens later.
func (e *Extractor) Extract(ctx context.Context, reportText string, sections []models.VulnerabilitySection) ([]models.RawVulnerability, []models.Diagnostic, error) {
	if len(sections) == 0 {
		return nil, nil, nil
	}

	payload, diags := BuildExtractorPayload(reportText, sections)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, diags, utils.NewAppError("extractor.payload", "marshal sections", err)
	}

	text, err := e.invoker.Invoke(ctx, agent.Extractor, string(body))
	if err != nil {
		return nil, diags, err
	}

	resp, err := decodeExtractorResponse(text)
	if err != nil {
		return nil, diags, err
	}

	out := make([]models.RawVulnerability, 0, len(resp.Vulnerabilities))
	for i, raw := range resp.Vulnerabilities {
		raw.Title = strings.TrimSpace(raw.Title)
		if raw.Title == "" && strings.TrimSpace(raw.Description) == "" {
			diags = append(diags, diagnostic(models.StageExtractor,
				"dropped record at position %d: no title or description", i+1))
			continue
		}
		out = append(out, raw)
	}
	e.logger.Debug("extractor decoded vulnerabilities", slog.Int("records", len(out)))
	return out, diags, nil
}

// BuildExtractorPayload pairs each section with its padded line range.
func BuildExtractorPayload(reportText string, sections []models.VulnerabilitySection) (ExtractorPayload, []models.Diagnostic) {
	lines := splitLines(reportText)
	payload := ExtractorPayload{Sections: make([]SectionPayload, 0, len(sections))}
	var diags []models.Diagnostic
	needReport := false

	for _, sec := range sections {
		excerpt, ok := excerptFor(lines, int(sec.StartLine), int(sec.EndLine))
		if !ok {
			needReport = true
			diags = append(diags, diagnostic(models.StageExtractor,
				"section %s has no usable line range; sending full report", sec.ID))
		}
		payload.Sections = append(payload.Sections, SectionPayload{
			ID:      sec.ID,
			Title:   sec.Title,
			Context: sec.Context,
			Excerpt: excerpt,
		})
	}
	if needReport {
		payload.Report = reportText
	}
	return payload, diags
}

func excerptFor(lines []string, start, end int) (string, bool) {
	if start < 1 || start > len(lines) {
		return "", false
	}
	if end < start {
		end = start
	}
	from := max(start-excerptPadding, 1)
	to := min(end+excerptPadding, len(lines))
	excerpt := strings.Join(lines[from-1:to], "\n")
	if len(excerpt) > maxExcerptBytes {
		cut := maxExcerptBytes
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = excerpt[:cut] + "\n[excerpt truncated]"
	}
	return excerpt, true
}
