package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-audit/internal/agent"
	"github.com/miradorstack/mirador-audit/internal/models"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

func TestParseZeroSectionsIsValid(t *testing.T) {
	inv := newScriptedInvoker()
	inv.responses[agent.Parser] = `{"sections":[],"totalFindings":0,"auditScope":"Token vault"}`

	out, err := NewParser(inv, nil).Parse(context.Background(), "No issues were found.")
	require.NoError(t, err)
	assert.Empty(t, out.Sections)
	assert.Equal(t, "Token vault", out.AuditScope)
}

func TestParseSendsNumberedLines(t *testing.T) {
	inv := newScriptedInvoker()
	inv.responses[agent.Parser] = `{"sections":[]}`

	_, err := NewParser(inv, nil).Parse(context.Background(), "first\r\nsecond\n")
	require.NoError(t, err)
	assert.Equal(t, "1\tfirst\n2\tsecond\n", inv.prompts[agent.Parser])
}

func TestParseNormalisesIdentifiers(t *testing.T) {
	inv := newScriptedInvoker()
	inv.responses[agent.Parser] = "```json\n" + `{"sections":[
		{"id":"1","title":" Reentrancy ","startLine":3,"endLine":9},
		{"id":1,"title":"Duplicate"},
		{"title":"No id"},
		{"id":4,"title":"","startLine":12,"endLine":2}
	],"totalFindings":"2"}` + "\n```"

	out, err := NewParser(inv, nil).Parse(context.Background(), "report")
	require.NoError(t, err)
	require.Len(t, out.Sections, 3)

	assert.Equal(t, models.SectionID("1"), out.Sections[0].ID)
	assert.Equal(t, "Reentrancy", out.Sections[0].Title)
	assert.Equal(t, models.SectionID("5"), out.Sections[1].ID)
	assert.Equal(t, models.SectionID("4"), out.Sections[2].ID)
	assert.Equal(t, "Section 4", out.Sections[2].Title)
	assert.Equal(t, models.FlexInt(12), out.Sections[2].EndLine)
	assert.Equal(t, 3, out.TotalFindings)
	assert.Len(t, out.Diagnostics, 2)
}

func TestParsePropagatesInvokerErrors(t *testing.T) {
	inv := newScriptedInvoker()
	inv.errs[agent.Parser] = utils.NewKindError(utils.KindConfiguration, "agent.parser", "api key not configured", nil)

	_, err := NewParser(inv, nil).Parse(context.Background(), "report")
	assert.Equal(t, utils.KindConfiguration, utils.KindOf(err))
}

func TestParseDecodeFailure(t *testing.T) {
	inv := newScriptedInvoker()
	inv.responses[agent.Parser] = "I could not find any JSON to give you."

	_, err := NewParser(inv, nil).Parse(context.Background(), "report")
	assert.Equal(t, utils.KindDecode, utils.KindOf(err))
}
