// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the note collection as tools for LLM clients via stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/noteservice"
)

// NoteFormatURI is the resource carrying the note format contract.
const NoteFormatURI = "inkwell://note-format"

// Server wraps the MCP server with note tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all note tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Inkwell",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notebooks",
		mcp.WithDescription("List notebooks (top-level folders of the note collection)."),
	), s.listNotebooks)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes, newest first, optionally filtered by notebook or tag."),
		mcp.WithString("notebook_id", mcp.Description("Notebook to list (empty for all)")),
		mcp.WithString("tag", mcp.Description("Only notes carrying this tag")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a Markdown note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id as returned by list_notes")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new Markdown note in a notebook. "+
			"Content should follow the note format; read it first via the "+
			"get_note_contract tool or the "+NoteFormatURI+" resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Note title, used for the file name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown body")),
		mcp.WithString("notebook_id", mcp.Description("Target notebook (defaults to the default notebook)")),
		mcp.WithArray("tags", mcp.Description("Tags written to the frontmatter"), mcp.Items(map[string]any{"type": "string"})),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note_tags",
		mcp.WithDescription("Replace the tags of a Markdown note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithArray("tags", mcp.Required(), mcp.Description("New tag list"), mcp.Items(map[string]any{"type": "string"})),
	), s.updateNoteTags)

	s.mcp.AddTool(mcp.NewTool("save_image",
		mcp.WithDescription("Store an image in a notebook from a base64 data URI or an http(s) URL. "+
			"Returns the image note id and a Markdown snippet referencing it. "+
			"With note_id the snippet is also appended to that note."),
		mcp.WithString("url", mcp.Required(), mcp.Description("data: URI or http(s) URL of the image")),
		mcp.WithString("notebook_id", mcp.Description("Target notebook (defaults to the note's notebook, else the default notebook)")),
		mcp.WithString("alt", mcp.Description("Alt text for the Markdown snippet (defaults to the file name)")),
		mcp.WithString("note_id", mcp.Description("Absolute path of a markdown note to append the image to")),
	), s.saveImage)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the note format contract. "+
			"Call this before creating notes to ensure correct structure."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(NoteFormatURI, "Note Format Contract",
			mcp.WithResourceDescription("Markdown note format with tag frontmatter."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type noteSummary struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	NotebookID  string          `json:"notebookId"`
	Tags        []string        `json:"tags"`
	Type        models.NoteKind `json:"type"`
	Preview     string          `json:"preview,omitempty"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

func summarize(n models.Note) noteSummary {
	return noteSummary{
		ID:          n.ID,
		Title:       n.Title,
		NotebookID:  n.NotebookID,
		Tags:        n.Tags,
		Type:        n.Type,
		Preview:     n.Preview,
		LastUpdated: n.LastUpdated,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listNotebooks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nbs, err := s.svc.ListNotebooks(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(nbs)
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.svc.ListNotes(ctx, noteservice.ListOptions{
		NotebookID: req.GetString("notebook_id", ""),
		Tag:        req.GetString("tag", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([]noteSummary, 0, len(notes))
	for _, n := range notes {
		out = append(out, summarize(n))
	}
	return jsonResult(out)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.GetNote(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read %s: %v", id, err)), nil
	}
	if n.Type != models.KindMarkdown {
		return mcp.NewToolResultError(fmt.Sprintf("not a markdown note: %s", id)), nil
	}
	return mcp.NewToolResultText(n.Content), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notebookID := req.GetString("notebook_id", models.DefaultNotebook)

	n, err := s.svc.CreateNote(ctx, title, content, notebookID, req.GetStringSlice("tags", nil))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(summarize(*n))
}

func (s *Server) updateNoteTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tags, err := req.RequireStringSlice("tags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.SetTags(ctx, id, tags)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(summarize(*n))
}

func (s *Server) getNoteContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      NoteFormatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
