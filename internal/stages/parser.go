package stages

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-audit/internal/agent"
	"github.com/miradorstack/mirador-audit/internal/models"
)

// ParseOutput is the normalised result of the parser stage.
type ParseOutput struct {
	Sections      []models.VulnerabilitySection
	TotalFindings int
	AuditScope    string
	Diagnostics   []models.Diagnostic
}

// Parser locates finding sections in a report.
type Parser struct {
	invoker Invoker
	logger  *slog.Logger
}

// NewParser constructs a Parser.
func NewParser(invoker Invoker, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{invoker: invoker, logger: logger}
}

// Parse sends the numbered report to the parser agent. Zero sections is a
// valid result.
func (p *Parser) Parse(ctx context.Context, reportText string) (ParseOutput, error) {
	text, err := p.invoker.Invoke(ctx, agent.Parser, BuildParserPrompt(reportText))
	if err != nil {
		return ParseOutput{}, err
	}

	resp, err := decodeParserResponse(text)
	if err != nil {
		return ParseOutput{}, err
	}

	out := normaliseSections(resp.Sections)
	out.AuditScope = strings.TrimSpace(resp.AuditScope)
	out.TotalFindings = int(resp.TotalFindings)
	if out.TotalFindings < len(out.Sections) {
		out.TotalFindings = len(out.Sections)
	}
	p.logger.Debug("parser decoded sections",
		slog.Int("sections", len(out.Sections)),
		slog.Int("total_findings", out.TotalFindings),
	)
	return out, nil
}

// BuildParserPrompt prefixes every report line with its 1-based number.
func BuildParserPrompt(reportText string) string {
	lines := splitLines(reportText)
	var b strings.Builder
	b.Grow(len(reportText) + len(lines)*6)
	for i, line := range lines {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteByte('\t')
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// normaliseSections gives every section a unique positive id. Sections
// without a usable id receive the next id after the largest one seen;
// repeated ids keep their first occurrence.
func normaliseSections(in []models.VulnerabilitySection) ParseOutput {
	var out ParseOutput
	maxID := 0
	for _, sec := range in {
		if n, ok := sec.ID.Int(); ok && n > maxID {
			maxID = n
		}
	}

	seen := make(map[int]bool, len(in))
	for i, sec := range in {
		n, ok := sec.ID.Int()
		if !ok {
			maxID++
			out.Diagnostics = append(out.Diagnostics, diagnostic(models.StageParser,
				"section at position %d had no usable id %q; assigned %d", i+1, sec.ID, maxID))
			n = maxID
		}
		if seen[n] {
			out.Diagnostics = append(out.Diagnostics, diagnostic(models.StageParser,
				"dropped section at position %d: duplicate id %d", i+1, n))
			continue
		}
		seen[n] = true

		sec.ID = models.SectionID(strconv.Itoa(n))
		sec.Title = strings.TrimSpace(sec.Title)
		if sec.Title == "" {
			sec.Title = "Section " + strconv.Itoa(n)
		}
		sec.Context = strings.TrimSpace(sec.Context)
		if sec.StartLine < 0 {
			sec.StartLine = 0
		}
		if sec.EndLine < sec.StartLine {
			sec.EndLine = sec.StartLine
		}
		out.Sections = append(out.Sections, sec)
	}
	return out
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
