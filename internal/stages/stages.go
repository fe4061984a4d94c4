// Package stages holds the three prompt runners of an extraction run. Each
// runner serialises its stage input, invokes its agent and decodes the reply
// into domain records; none of them knows about the other stages.
package stages

import (
	"context"
	"fmt"

	"github.com/miradorstack/mirador-audit/internal/agent"
	"github.com/miradorstack/mirador-audit/internal/models"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

// Invoker performs a single agent call.
type Invoker interface {
	Invoke(ctx context.Context, at agent.Type, userPrompt string) (string, error)
}

func diagnostic(stage models.Stage, format string, args ...any) models.Diagnostic {
	return models.Diagnostic{Stage: stage, Message: utils.Preview(fmt.Sprintf(format, args...), 512)}
}

// Decodable reports whether text satisfies the reply contract of agent at,
// using the same decoder as the stage runner.
func Decodable(at agent.Type, text string) bool {
	var err error
	switch at {
	case agent.Parser:
		_, err = decodeParserResponse(text)
	case agent.Extractor:
		_, err = decodeExtractorResponse(text)
	case agent.Classifier:
		_, err = decodeClassifierResponse(text)
	default:
		return false
	}
	return err == nil
}

func decodeParserResponse(text string) (models.ParserResponse, error) {
	return decodeEnvelope(models.StageParser, text, "sections", func(s []models.VulnerabilitySection) models.ParserResponse {
		return models.ParserResponse{Sections: s}
	})
}

func decodeExtractorResponse(text string) (models.ExtractorResponse, error) {
	return decodeEnvelope(models.StageExtractor, text, "vulnerabilities", func(v []models.RawVulnerability) models.ExtractorResponse {
		return models.ExtractorResponse{Vulnerabilities: v}
	})
}

func decodeClassifierResponse(text string) (models.ClassifierResponse, error) {
	return decodeEnvelope(models.StageClassifier, text, "vulnerabilities", func(v []models.Classification) models.ClassifierResponse {
		return models.ClassifierResponse{Vulnerabilities: v}
	})
}
