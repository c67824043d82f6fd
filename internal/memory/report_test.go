package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/starford/inkwell/internal/extraction"
)

func TestFormat_MissingFieldsRenderDash(t *testing.T) {
	got := Format([]extraction.Outcome{{
		Kind:     extraction.OutcomeEntities,
		Entities: []extraction.Entity{{Name: "Ada", Description: "math"}},
	}})
	assert.Contains(t, got, "| Name | Type | Description |")
	assert.Contains(t, got, "| Ada | - | math |")
}

func TestFormat_EmptyBatchIsNoData(t *testing.T) {
	got := Format([]extraction.Outcome{
		{Kind: extraction.OutcomeRelations, Relations: []extraction.Relation{}},
		{Kind: extraction.OutcomeEntities},
	})
	assert.Equal(t, 2, strings.Count(got, noData))
	assert.NotContains(t, got, "| Source |")
	assert.NotContains(t, got, "| Name |")
}

func TestFormat_Relations(t *testing.T) {
	got := Format([]extraction.Outcome{{
		Kind:      extraction.OutcomeRelations,
		Relations: []extraction.Relation{{Source: "A", Relation: "knows", Target: ""}},
	}})
	assert.Contains(t, got, "### Relations")
	assert.Contains(t, got, "| A | knows | - |")
}

func TestFormat_SkipsUnknownKinds(t *testing.T) {
	got := Format([]extraction.Outcome{
		{Kind: extraction.OutcomeUnknown, Tool: "search_nodes"},
		{Kind: extraction.OutcomeEntities, Entities: []extraction.Entity{{Name: "x"}}},
	})
	assert.NotContains(t, got, "search_nodes")
	assert.Contains(t, got, "| x | - | - |")
}

func TestFormat_EmptyAndEscaping(t *testing.T) {
	assert.Equal(t, noResults, Format(nil))

	got := Format([]extraction.Outcome{{
		Kind:     extraction.OutcomeEntities,
		Entities: []extraction.Entity{{Name: "a|b", Type: "multi\nline"}},
	}})
	assert.Contains(t, got, `| a\|b | multi line | - |`)
}
