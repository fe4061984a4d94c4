package agent

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/miradorstack/mirador-audit/internal/models"
)

// Markers open each system prompt; the local mock model keys on them.
const (
	ParserMarker     = "You are the audit report PARSER."
	ExtractorMarker  = "You are the vulnerability EXTRACTOR."
	ClassifierMarker = "You are the vulnerability CLASSIFIER."
)

var systemPrompts = map[Type]string{
	Parser:     buildParserPrompt(),
	Extractor:  buildExtractorPrompt(),
	Classifier: buildClassifierPrompt(),
}

// SystemPrompt returns the fixed instruction for at, or "" for unknown types.
func SystemPrompt(at Type) string {
	return systemPrompts[at]
}

// ResponseSchema renders the JSON Schema of the envelope expected from at.
func ResponseSchema(at Type) string {
	switch at {
	case Parser:
		return schemaFor(&models.ParserResponse{})
	case Extractor:
		return schemaFor(&models.ExtractorResponse{})
	case Classifier:
		return schemaFor(&models.ClassifierResponse{})
	default:
		return ""
	}
}

func schemaFor(v any) string {
	reflector := jsonschema.Reflector{
		Anonymous:                 true,
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		panic("agent: render schema: " + err.Error())
	}
	return string(data)
}

func outputFormat(at Type) string {
	return "\n## Output Format (JSON)\n\n" +
		"Return exactly one JSON object that validates against this schema:\n\n" +
		ResponseSchema(at) + "\n"
}

func buildParserPrompt() string {
	prompt := ParserMarker + "\n\n"
	prompt += "## Task\n\n"
	prompt += "The user message is the full text of a security audit report. Every line starts with its line number followed by a tab.\n"
	prompt += "Locate every individual finding the report describes and return one section per finding, in document order.\n"
	prompt += outputFormat(Parser)
	prompt += "\n## Rules\n\n"
	prompt += "1. Number sections 1, 2, 3 and so on in document order. Every id must be unique.\n"
	prompt += "2. startLine and endLine refer to the numbered lines and must cover the whole finding, including code and recommendations.\n"
	prompt += "3. Do not create sections for summaries, tables of contents, disclaimers or methodology.\n"
	prompt += "4. totalFindings is the number of findings the report itself claims, or the number of sections if it does not say.\n"
	prompt += "5. A report without findings is valid: return an empty sections list.\n"
	prompt += "6. Respond with JSON only. No markdown fences, no commentary.\n"
	return prompt
}

func buildExtractorPrompt() string {
	prompt := ExtractorMarker + "\n\n"
	prompt += "## Task\n\n"
	prompt += "The user message is a JSON object. Its sections array lists report sections, each with an id, a title, a short context and usually an excerpt of the report.\n"
	prompt += "When a section has no excerpt, the object also carries the full report text in report; locate the section there by its title.\n"
	prompt += "Extract the full details of every finding contained in every section.\n"
	prompt += outputFormat(Extractor)
	prompt += "\n## Rules\n\n"
	prompt += "1. sectionId must be the id of the section the finding was taken from.\n"
	prompt += "2. Copy description, impact and recommendation verbatim. Keep code fences and links exactly as written.\n"
	prompt += "3. Also list every code snippet in codeBlocks with its language, and every URL in links in order of appearance.\n"
	prompt += "4. Use empty strings for information the section does not contain. Never invent content.\n"
	prompt += "5. Respond with JSON only. No markdown fences, no commentary.\n"
	return prompt
}

func buildClassifierPrompt() string {
	prompt := ClassifierMarker + "\n\n"
	prompt += "## Task\n\n"
	prompt += "The user message lists extracted findings, the allowed tags and previously classified examples.\n"
	prompt += "Assign a severity, tags and a category to every finding.\n"
	prompt += outputFormat(Classifier)
	prompt += "\n## Rules\n\n"
	prompt += "1. Return one entry per input finding and copy its sectionId and title unchanged.\n"
	prompt += "2. severity is one of critical, high, medium, low or note.\n"
	prompt += "3. tags holds one to three values copied exactly from the allowed tags. Never make up a tag.\n"
	prompt += "4. category is 0 when the finding was fixed, 1 when acknowledged but not fixed, 2 when partially fixed, 3 when the finding is invalid and 100 when the report does not say.\n"
	prompt += "5. Use the examples as guidance for how similar findings were rated.\n"
	prompt += "6. Respond with JSON only. No markdown fences, no commentary.\n"
	return prompt
}
