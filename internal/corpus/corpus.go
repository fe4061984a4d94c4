// Package corpus loads the tag vocabulary and labelled examples handed to
// the classifier stage.
package corpus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-audit/internal/models"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

// Example is one labelled finding shown to the classifier.
type Example struct {
	Title     string   `yaml:"title" json:"title"`
	Severity  string   `yaml:"severity" json:"severity"`
	Tags      []string `yaml:"tags" json:"tags"`
	Category  string   `yaml:"category,omitempty" json:"category,omitempty"`
	Rationale string   `yaml:"rationale,omitempty" json:"rationale,omitempty"`
}

// Corpus is the read-only classification context shared by all runs.
type Corpus struct {
	Tags     []string  `yaml:"tags"`
	Examples []Example `yaml:"examples"`
}

// Load reads a YAML corpus file. An empty path or a missing file yields an
// empty corpus.
func Load(path string) (*Corpus, error) {
	if strings.TrimSpace(path) == "" {
		return &Corpus{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Corpus{}, nil
	}
	if err != nil {
		return nil, utils.NewKindError(utils.KindConfiguration, "corpus.load", "read "+path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML corpus document.
func Parse(data []byte) (*Corpus, error) {
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, utils.NewKindError(utils.KindConfiguration, "corpus.parse", "decode yaml", err)
	}
	c.Tags = dedupe(c.Tags)
	examples := c.Examples[:0]
	for _, ex := range c.Examples {
		if ex, ok := normaliseExample(ex); ok {
			examples = append(examples, ex)
		}
	}
	c.Examples = examples
	return &c, nil
}

// Merge appends examples not already present, matched on folded title.
func (c *Corpus) Merge(examples []Example) {
	seen := make(map[string]bool, len(c.Examples))
	for _, ex := range c.Examples {
		seen[strings.ToLower(ex.Title)] = true
	}
	for _, ex := range examples {
		ex, ok := normaliseExample(ex)
		if !ok || seen[strings.ToLower(ex.Title)] {
			continue
		}
		seen[strings.ToLower(ex.Title)] = true
		c.Examples = append(c.Examples, ex)
	}
}

// AllowedTags returns a copy of the vocabulary.
func (c *Corpus) AllowedTags() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.Tags...)
}

// Render formats at most limit examples as the classifier's examples block.
// A non-positive limit renders all of them.
func (c *Corpus) Render(limit int) string {
	if c == nil || len(c.Examples) == 0 {
		return ""
	}
	examples := c.Examples
	if limit > 0 && len(examples) > limit {
		examples = examples[:limit]
	}

	var b strings.Builder
	for i, ex := range examples {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "### %s\n", ex.Title)
		fmt.Fprintf(&b, "- severity: %s\n", ex.Severity)
		if len(ex.Tags) > 0 {
			fmt.Fprintf(&b, "- tags: %s\n", strings.Join(ex.Tags, ", "))
		}
		if ex.Category != "" {
			fmt.Fprintf(&b, "- category: %s\n", ex.Category)
		}
		if ex.Rationale != "" {
			fmt.Fprintf(&b, "- rationale: %s\n", ex.Rationale)
		}
	}
	return b.String()
}

func normaliseExample(ex Example) (Example, bool) {
	ex.Title = strings.TrimSpace(ex.Title)
	if ex.Title == "" {
		return ex, false
	}
	sev, _ := models.ParseSeverity(ex.Severity)
	ex.Severity = string(sev)
	ex.Tags = dedupe(ex.Tags)
	ex.Category = strings.TrimSpace(ex.Category)
	ex.Rationale = strings.Join(strings.Fields(ex.Rationale), " ")
	return ex, true
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
