package engine

import (
	"strings"

	"github.com/miradorstack/mirador-audit/internal/models"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

// StageOutputs are the decoded results of the three stages of one run.
type StageOutputs struct {
	Sections   []models.VulnerabilitySection
	Raw        []models.RawVulnerability
	Classified []models.ClassifiedVulnerability
}

// Reconcile merges stage outputs into findings, one per raw record and in
// raw order. It is a pure function of its input.
//
// Classified records are joined on the normalised section id. Within one id
// a record with the same title is preferred, otherwise records pair in
// order. Free text always comes from the raw record. A raw record without a
// classification gets the default one and status PartiallyClassified; a raw
// record whose id names no parsed section is CorrelationFailed. Classified
// records left unpaired are discarded with a diagnostic.
func Reconcile(in StageOutputs) ([]models.Finding, []models.Diagnostic) {
	known := make(map[models.SectionID]bool, len(in.Sections))
	for _, sec := range in.Sections {
		known[sec.ID] = true
	}

	queues := make(map[models.SectionID][]int)
	for i, c := range in.Classified {
		if c.SectionID == "" {
			continue
		}
		queues[c.SectionID] = append(queues[c.SectionID], i)
	}
	used := make([]bool, len(in.Classified))

	// Exact title matches are claimed before any positional pairing so an
	// earlier untitled or unmatched record cannot take a later one's match.
	pick := make([]int, len(in.Raw))
	for i, raw := range in.Raw {
		pick[i] = -1
		if idx, ok := matchTitle(queues[raw.SectionID], used, in.Classified, raw.Title); ok {
			used[idx] = true
			pick[i] = idx
		}
	}
	for i, raw := range in.Raw {
		if pick[i] >= 0 {
			continue
		}
		if idx, ok := firstUnused(queues[raw.SectionID], used); ok {
			used[idx] = true
			pick[i] = idx
		}
	}

	findings := make([]models.Finding, 0, len(in.Raw))
	var diags []models.Diagnostic
	for i, raw := range in.Raw {
		finding := models.Finding{
			ClassifiedVulnerability: models.DefaultClassification(raw),
			Status:                  models.StatusPartiallyClassified,
		}
		if idx := pick[i]; idx >= 0 {
			c := in.Classified[idx]
			finding.Severity = c.Severity
			finding.Tags = append(make([]string, 0, len(c.Tags)), c.Tags...)
			finding.Category = c.Category
			finding.Status = models.StatusComplete
		}

		if raw.SectionID == "" || !known[raw.SectionID] {
			finding.Status = models.StatusCorrelationFailed
			diags = append(diags, models.Diagnostic{
				Stage:   models.StageReconcile,
				Message: "finding " + quote(raw.Title) + " references unknown section " + quote(string(raw.SectionID)),
			})
			if pick[i] >= 0 {
				diags = append(diags, models.Diagnostic{
					Stage:   models.StageReconcile,
					Message: "finding " + quote(raw.Title) + " kept classification " + quote(in.Classified[pick[i]].Title) + " although its section is unknown",
				})
			}
		}
		findings = append(findings, finding)
	}

	for i, c := range in.Classified {
		if used[i] {
			continue
		}
		diags = append(diags, models.Diagnostic{
			Stage:   models.StageReconcile,
			Message: "discarded classification " + quote(c.Title) + " for section " + quote(string(c.SectionID)) + ": no extracted finding matches",
		})
	}
	return findings, diags
}

func matchTitle(candidates []int, used []bool, classified []models.ClassifiedVulnerability, title string) (int, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0, false
	}
	for _, idx := range candidates {
		if !used[idx] && strings.EqualFold(strings.TrimSpace(classified[idx].Title), title) {
			return idx, true
		}
	}
	return 0, false
}

func firstUnused(candidates []int, used []bool) (int, bool) {
	for _, idx := range candidates {
		if !used[idx] {
			return idx, true
		}
	}
	return 0, false
}

func quote(s string) string {
	return `"` + utils.Preview(s, 96) + `"`
}
