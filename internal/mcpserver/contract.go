package mcpserver

// NoteFormatContract describes the Markdown note format that LLM consumers
// should follow when creating notes.
const NoteFormatContract = `# Inkwell Note Format

Notes are plain Markdown files. A notebook is a top-level folder of the
collection; notes at the root belong to the ` + "`" + `default` + "`" + ` notebook.

## Structure

` + "```" + `markdown
---
tags:
  - tag-one
  - tag-two
---

Body text in standard Markdown.
` + "```" + `

## Rules

1. **Frontmatter is optional.** When present, the ` + "`" + `---` + "`" + ` fences must be
   the first thing in the file.
2. **Only ` + "`" + `tags` + "`" + ` is interpreted.** It is a YAML list of unique strings. Other
   keys are kept verbatim but ignored.
3. **Titles come from the file name.** Pass ` + "`" + `title` + "`" + ` to create_note; do not
   repeat it as a frontmatter key. A timestamp suffix keeps file names unique.
4. **Tags** are short, lowercase words or phrases (e.g. ` + "`" + `project-x` + "`" + `).
   Pass them to create_note or update_note_tags instead of editing the
   frontmatter by hand.
5. **Encoding** is UTF-8.

## Images

- Store images with the ` + "`" + `save_image` + "`" + ` tool. It returns a ` + "`" + `markdownImage` + "`" + `
  field ready to paste into the note body. Pass ` + "`" + `note_id` + "`" + ` to have it
  appended to an existing note instead.
- Supported formats: png, jpg, jpeg, gif, webp, svg. The type is checked
  against the file content.

## Example

` + "```" + `markdown
---
tags:
  - meeting-notes
  - project-x
---

# Weekly standup

Attendees: Alice, Bob.

## Action items

- Alice to review the design doc
- Bob to update the roadmap
` + "```" + `
`
