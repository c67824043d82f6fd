package extraction

import (
	"encoding/json"
	"strings"
)

// Tool names that produce known outcome kinds.
const (
	ToolCreateEntities  = "create_entities"
	ToolCreateRelations = "create_relations"
)

// OutcomeKind tags an Outcome's payload.
type OutcomeKind string

const (
	OutcomeEntities  OutcomeKind = "entities"
	OutcomeRelations OutcomeKind = "relations"
	OutcomeUnknown   OutcomeKind = "unknown"
)

// Entity is one extracted knowledge-graph node. Empty fields were missing
// from the tool result.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Relation is one extracted edge between two entities.
type Relation struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

// Outcome is the result of one tool invocation. Only the slice matching Kind
// is populated; a nil slice means the tool returned no usable result array.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Tool      string      `json:"tool"`
	Entities  []Entity    `json:"entities,omitempty"`
	Relations []Relation  `json:"relations,omitempty"`
	Raw       string      `json:"raw,omitempty"`
}

// KindOf maps a tool name to its outcome kind.
func KindOf(tool string) OutcomeKind {
	switch tool {
	case ToolCreateEntities:
		return OutcomeEntities
	case ToolCreateRelations:
		return OutcomeRelations
	default:
		return OutcomeUnknown
	}
}

// DecodeOutcome builds an Outcome from a tool's text result. The payload may
// be a bare array or an object wrapping it under "entities"/"relations"; a
// payload that is neither leaves the batch empty instead of failing.
func DecodeOutcome(tool, text string) Outcome {
	out := Outcome{Kind: KindOf(tool), Tool: tool, Raw: text}
	switch out.Kind {
	case OutcomeEntities:
		for _, item := range resultItems(text, "entities") {
			out.Entities = append(out.Entities, Entity{
				Name:        str(item, "name"),
				Type:        first(str(item, "type"), str(item, "entityType")),
				Description: description(item),
			})
		}
	case OutcomeRelations:
		for _, item := range resultItems(text, "relations") {
			out.Relations = append(out.Relations, Relation{
				Source:   first(str(item, "source"), str(item, "from")),
				Relation: first(str(item, "relation"), str(item, "relationType")),
				Target:   first(str(item, "target"), str(item, "to")),
			})
		}
	}
	return out
}

// DecodeArguments reads a tool's JSON arguments as an outcome. It is used when
// the tool result carries no structured payload, in which case the arguments
// the model produced are the best record of what was saved.
func DecodeArguments(tool string, args map[string]any) Outcome {
	raw, err := json.Marshal(args)
	if err != nil {
		return Outcome{Kind: KindOf(tool), Tool: tool}
	}
	return DecodeOutcome(tool, string(raw))
}

func resultItems(text, key string) []map[string]any {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &v); err != nil {
		return nil
	}
	if obj, ok := v.(map[string]any); ok {
		v = obj[key]
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	items := make([]map[string]any, 0, len(arr))
	for _, a := range arr {
		if m, ok := a.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}

func description(item map[string]any) string {
	if d := str(item, "description"); d != "" {
		return d
	}
	if props, ok := item["properties"].(map[string]any); ok {
		if d := str(props, "description"); d != "" {
			return d
		}
	}
	if obs, ok := item["observations"].([]any); ok {
		parts := make([]string, 0, len(obs))
		for _, o := range obs {
			if s, ok := o.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
