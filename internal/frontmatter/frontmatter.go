// Package frontmatter reads and writes the tag list kept in the YAML header
// at the top of a markdown note.
//
// The codec edits the header line by line rather than re-serialising it, so
// keys it does not understand survive byte for byte.
package frontmatter

import (
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	delim   = "---"
	tagsKey = "tags:"
)

// Metadata is the decoded view of a frontmatter block.
type Metadata struct {
	Tags []string
}

// block locates a frontmatter header inside content.
type block struct {
	header string // text between the delimiters, without the trailing newline
	end    int    // offset of the first byte after the closing delimiter line
}

// locate finds a well-formed block at the very start of content. Content that
// does not open with a delimiter line, or never closes it, has no block.
func locate(content string) (block, bool) {
	if !strings.HasPrefix(content, delim) {
		return block{}, false
	}
	nl := strings.IndexByte(content, '\n')
	if nl < 0 || trimLine(content[:nl]) != delim {
		return block{}, false
	}
	start := nl + 1
	for pos := start; pos < len(content); {
		next := strings.IndexByte(content[pos:], '\n')
		lineEnd := len(content)
		if next >= 0 {
			lineEnd = pos + next
		}
		if trimLine(content[pos:lineEnd]) == delim {
			header := strings.TrimSuffix(content[start:pos], "\n")
			header = strings.TrimSuffix(header, "\r")
			end := lineEnd
			if next >= 0 {
				end++
			}
			return block{header: header, end: end}, true
		}
		if next < 0 {
			break
		}
		pos = lineEnd + 1
	}
	return block{}, false
}

// Split separates the frontmatter header from the body. ok is false when the
// content carries no well-formed block, in which case body is content itself.
func Split(content string) (header, body string, ok bool) {
	b, found := locate(content)
	if !found {
		return "", content, false
	}
	return b.header, content[b.end:], true
}

// Decode extracts the tag list. Missing or malformed frontmatter and a header
// without a tags key all yield an empty list, never an error.
func Decode(content string) Metadata {
	b, ok := locate(content)
	if !ok {
		return Metadata{Tags: []string{}}
	}
	lines := splitLines(b.header)
	i, j, found := tagsSection(lines)
	if !found {
		return Metadata{Tags: []string{}}
	}
	tags := inlineTags(strings.TrimSpace(strings.TrimPrefix(trimLine(lines[i]), tagsKey)))
	for _, line := range lines[i+1 : j] {
		item := strings.TrimSpace(line)
		if !strings.HasPrefix(item, "-") {
			continue
		}
		if tag := unquote(strings.TrimSpace(strings.TrimPrefix(item, "-"))); tag != "" {
			tags = append(tags, tag)
		}
	}
	return Metadata{Tags: tags}
}

// Encode writes tags into content's frontmatter. Content without a block gets
// a fresh one prepended; an existing tags section is replaced in place and any
// other keys are left untouched. Tags are emitted in the given order,
// duplicates included.
func Encode(content string, tags []string) string {
	section := renderTags(tags)

	b, ok := locate(content)
	if !ok {
		return delim + "\n" + section + "\n" + delim + "\n" + content
	}

	lines := splitLines(b.header)
	i, j, found := tagsSection(lines)
	if found && equal(Decode(content).Tags, tags) {
		return content
	}

	var header []string
	switch {
	case found:
		header = append(header, lines[:i]...)
		header = append(header, section)
		header = append(header, lines[j:]...)
	case b.header == "":
		header = []string{section}
	default:
		header = append(lines, section)
	}
	return delim + "\n" + strings.Join(header, "\n") + "\n" + delim + "\n" + content[b.end:]
}

// Fields decodes every header key with yaml.v3. Invalid YAML or a missing
// block yields nil.
func Fields(content string) map[string]any {
	b, ok := locate(content)
	if !ok || strings.TrimSpace(b.header) == "" {
		return nil
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(b.header), &fm); err != nil {
		return nil
	}
	return fm
}

func renderTags(tags []string) string {
	if len(tags) == 0 {
		return "tags: []"
	}
	var sb strings.Builder
	sb.WriteString("tags:")
	for _, t := range tags {
		sb.WriteString("\n  - ")
		sb.WriteString(t)
	}
	return sb.String()
}

// tagsSection returns the line range [i, j) covering the tags key and the
// list items or indented continuation lines that follow it.
func tagsSection(lines []string) (int, int, bool) {
	for i, line := range lines {
		if !strings.HasPrefix(line, tagsKey) {
			continue
		}
		j := i + 1
		for j < len(lines) {
			l := lines[j]
			trimmed := strings.TrimSpace(l)
			if trimmed == "" {
				break
			}
			if !strings.HasPrefix(trimmed, "-") && !strings.HasPrefix(l, " ") && !strings.HasPrefix(l, "\t") {
				break
			}
			j++
		}
		return i, j, true
	}
	return 0, 0, false
}

// inlineTags parses the flow form "[a, b]" written after the key.
func inlineTags(v string) []string {
	tags := []string{}
	if !strings.HasPrefix(v, "[") || !strings.HasSuffix(v, "]") {
		return tags
	}
	for _, part := range strings.Split(v[1:len(v)-1], ",") {
		if tag := unquote(strings.TrimSpace(part)); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func splitLines(header string) []string {
	if header == "" {
		return nil
	}
	lines := strings.Split(header, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func trimLine(s string) string {
	return strings.TrimRight(s, " \t\r")
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
