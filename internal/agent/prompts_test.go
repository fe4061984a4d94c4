package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryAgentHasPrompt(t *testing.T) {
	for _, at := range Types() {
		prompt := SystemPrompt(at)
		require.NotEmpty(t, prompt, at.String())
		assert.Contains(t, prompt, "## Output Format (JSON)")
		assert.Contains(t, prompt, "## Rules")
	}
	assert.Empty(t, SystemPrompt(Type(99)))
}

func TestResponseSchemasAreClosedObjects(t *testing.T) {
	for _, at := range Types() {
		var schema map[string]any
		require.NoError(t, json.Unmarshal([]byte(ResponseSchema(at)), &schema), at.String())
		assert.Equal(t, "object", schema["type"], at.String())
		assert.Equal(t, false, schema["additionalProperties"], at.String())
		assert.NotContains(t, schema, "$ref", at.String())
	}
}

func TestSchemaAdvertisesTolerantSectionID(t *testing.T) {
	schema := ResponseSchema(Extractor)
	assert.True(t, strings.Contains(schema, `"sectionId"`))
	assert.True(t, strings.Contains(schema, `"oneOf"`))
}
