package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeOutcome_Entities(t *testing.T) {
	out := DecodeOutcome("create_entities", `[
		{"name":"Ada","type":"person","properties":{"description":"mathematician"}},
		{"name":"Engine","entityType":"machine","observations":["analytical","steam"]},
		{"name":"Bare"}
	]`)
	assert.Equal(t, OutcomeEntities, out.Kind)
	assert.Equal(t, []Entity{
		{Name: "Ada", Type: "person", Description: "mathematician"},
		{Name: "Engine", Type: "machine", Description: "analytical; steam"},
		{Name: "Bare"},
	}, out.Entities)
}

func TestDecodeOutcome_WrappedRelations(t *testing.T) {
	out := DecodeOutcome("create_relations", `{"relations":[
		{"from":"Ada","relationType":"designed","to":"Engine"},
		{"source":"A","relation":"knows","target":"B"}
	]}`)
	assert.Equal(t, OutcomeRelations, out.Kind)
	assert.Equal(t, []Relation{
		{Source: "Ada", Relation: "designed", Target: "Engine"},
		{Source: "A", Relation: "knows", Target: "B"},
	}, out.Relations)
}

func TestDecodeOutcome_Unparseable(t *testing.T) {
	out := DecodeOutcome("create_entities", "Entities created")
	assert.Equal(t, OutcomeEntities, out.Kind)
	assert.Nil(t, out.Entities)

	unknown := DecodeOutcome("search_nodes", `[{"name":"x"}]`)
	assert.Equal(t, OutcomeUnknown, unknown.Kind)
	assert.Nil(t, unknown.Entities)
}

func TestDecodeArguments(t *testing.T) {
	out := DecodeArguments("create_entities", map[string]any{
		"entities": []any{map[string]any{"name": "N", "entityType": "T"}},
	})
	assert.Equal(t, []Entity{{Name: "N", Type: "T"}}, out.Entities)
}
