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
	maxTagsPerFinding        = 3
	maxClassifierFieldLength = 4000
)

// classifierFinding is the trimmed view of a raw record shown to the classifier.
type classifierFinding struct {
	SectionID      models.SectionID `json:"sectionId"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Impact         string           `json:"impact,omitempty"`
	Recommendation string           `json:"recommendation,omitempty"`
	Location       string           `json:"location,omitempty"`
}

// Classifier assigns severity, tags and category to raw findings.
type Classifier struct {
	invoker Invoker
	logger  *slog.Logger
}

// NewClassifier constructs a Classifier.
func NewClassifier(invoker Invoker, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{invoker: invoker, logger: logger}
}

// Classify returns one classification per record the agent answered for.
// Tags outside allowedTags are dropped, never replaced. examples is passed
// to the agent as an opaque block.
func (c *Classifier) Classify(ctx context.Context, raws []models.RawVulnerability, allowedTags []string, examples string) ([]models.ClassifiedVulnerability, []models.Diagnostic, error) {
	if len(raws) == 0 {
		return nil, nil, nil
	}

	prompt, err := BuildClassifierPrompt(raws, allowedTags, examples)
	if err != nil {
		return nil, nil, err
	}
	text, err := c.invoker.Invoke(ctx, agent.Classifier, prompt)
	if err != nil {
		return nil, nil, err
	}

	resp, err := decodeClassifierResponse(text)
	if err != nil {
		return nil, nil, err
	}

	vocab := NewTagVocabulary(allowedTags)
	var diags []models.Diagnostic
	out := make([]models.ClassifiedVulnerability, 0, len(resp.Vulnerabilities))
	for _, rec := range resp.Vulnerabilities {
		severity, ok := models.ParseSeverity(rec.Severity)
		if !ok {
			diags = append(diags, diagnostic(models.StageClassifier,
				"section %s: unknown severity %q, using medium", rec.SectionID, utils.Preview(rec.Severity, 32)))
		}

		tags, dropped := vocab.Filter(rec.Tags)
		if len(dropped) > 0 {
			diags = append(diags, diagnostic(models.StageClassifier,
				"section %s: dropped tags outside the allowed set: %s", rec.SectionID, strings.Join(dropped, ", ")))
		}

		category := models.CategoryUnknown
		if rec.Category != nil {
			category = *rec.Category
		}

		out = append(out, models.ClassifiedVulnerability{
			RawVulnerability: models.RawVulnerability{SectionID: rec.SectionID, Title: strings.TrimSpace(rec.Title)},
			Severity:         severity,
			Tags:             tags,
			Category:         category,
		})
	}
	c.logger.Debug("classifier decoded records", slog.Int("records", len(out)), slog.Int("input", len(raws)))
	return out, diags, nil
}

// BuildClassifierPrompt renders findings, the tag vocabulary and the examples
// block into the classifier user message.
func BuildClassifierPrompt(raws []models.RawVulnerability, allowedTags []string, examples string) (string, error) {
	findings := make([]classifierFinding, 0, len(raws))
	for _, raw := range raws {
		findings = append(findings, classifierFinding{
			SectionID:      raw.SectionID,
			Title:          raw.Title,
			Description:    clip(raw.Description),
			Impact:         clip(raw.Impact),
			Recommendation: clip(raw.Recommendation),
			Location:       clip(raw.Location),
		})
	}
	body, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return "", utils.NewAppError("classifier.payload", "marshal findings", err)
	}

	prompt := "## Findings\n\n" + string(body) + "\n"
	prompt += "\n## Allowed Tags\n\n"
	if len(allowedTags) == 0 {
		prompt += "(none: return an empty tags list)\n"
	}
	for _, tag := range allowedTags {
		prompt += "- " + tag + "\n"
	}
	prompt += "\n## Examples\n\n"
	if strings.TrimSpace(examples) == "" {
		prompt += "(none)\n"
	} else {
		prompt += strings.TrimSpace(examples) + "\n"
	}
	return prompt, nil
}

func clip(s string) string {
	if len(s) <= maxClassifierFieldLength {
		return s
	}
	cut := maxClassifierFieldLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + " [truncated]"
}

// TagVocabulary matches model tags against the allowed set, ignoring case,
// spaces, hyphens and underscores.
type TagVocabulary struct {
	canonical map[string]string
}

// NewTagVocabulary indexes allowed tags by their folded form.
func NewTagVocabulary(allowed []string) TagVocabulary {
	v := TagVocabulary{canonical: make(map[string]string, len(allowed))}
	for _, tag := range allowed {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, exists := v.canonical[foldTag(tag)]; !exists {
			v.canonical[foldTag(tag)] = tag
		}
	}
	return v
}

// Filter returns the allowed tags in canonical spelling, deduplicated and
// capped, plus the values that were rejected. The result is never nil.
func (v TagVocabulary) Filter(tags []string) (kept []string, dropped []string) {
	kept = make([]string, 0, maxTagsPerFinding)
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		folded := foldTag(tag)
		if folded == "" || seen[folded] {
			continue
		}
		seen[folded] = true
		canonical, ok := v.canonical[folded]
		if !ok {
			dropped = append(dropped, utils.Preview(strings.TrimSpace(tag), 48))
			continue
		}
		if len(kept) == maxTagsPerFinding {
			dropped = append(dropped, canonical)
			continue
		}
		kept = append(kept, canonical)
	}
	return kept, dropped
}

func foldTag(tag string) string {
	return strings.ToLower(strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.TrimSpace(tag)))
}
