package memory

import (
	"strings"

	"github.com/starford/inkwell/internal/extraction"
)

const (
	noResults = "No results."
	noData    = "_no data_"
	missing   = "-"
)

// Format renders outcomes as a markdown report: one table per entities or
// relations batch, "no data" for empty batches. Batches of unknown kind are
// skipped.
func Format(outcomes []extraction.Outcome) string {
	if len(outcomes) == 0 {
		return noResults
	}
	var b strings.Builder
	b.WriteString("## Memory results\n\n")
	for _, o := range outcomes {
		switch o.Kind {
		case extraction.OutcomeEntities:
			b.WriteString("### Entities\n\n")
			if len(o.Entities) == 0 {
				b.WriteString(noData + "\n\n")
				continue
			}
			b.WriteString("| Name | Type | Description |\n| --- | --- | --- |\n")
			for _, e := range o.Entities {
				row(&b, e.Name, e.Type, e.Description)
			}
		case extraction.OutcomeRelations:
			b.WriteString("### Relations\n\n")
			if len(o.Relations) == 0 {
				b.WriteString(noData + "\n\n")
				continue
			}
			b.WriteString("| Source | Relation | Target |\n| --- | --- | --- |\n")
			for _, r := range o.Relations {
				row(&b, r.Source, r.Relation, r.Target)
			}
		default:
			continue
		}
		b.WriteString("\n")
	}
	return b.String()
}

func row(b *strings.Builder, cells ...string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(cell(c))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

func cell(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return missing
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
