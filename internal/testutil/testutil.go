// Package testutil provides shared test helpers: temporary stores, a fake
// OpenAI-compatible chat endpoint and an in-memory knowledge-graph MCP server.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/inkwell/internal/storage"
)

// PNG is the smallest prefix http.DetectContentType reports as image/png.
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// TestStore creates a temporary store root with a storage.FS.
func TestStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// ToolCall is one scripted tool invocation streamed by ChatServer.
type ToolCall struct {
	ID        string
	Name      string
	ArgChunks []string
}

// Turn is one scripted model response: either tool calls or plain content.
type Turn struct {
	ToolCalls []ToolCall
	Content   string
	// Status, when non-zero, makes the server fail the request with it.
	Status int
}

// ChatServer is a fake OpenAI-compatible /chat/completions endpoint that
// replays scripted turns in order. Once the script is exhausted it answers
// with a plain "ok".
type ChatServer struct {
	*httptest.Server

	mu       sync.Mutex
	turns    []Turn
	requests []map[string]any
}

// NewChatServer starts a ChatServer closed at test cleanup.
func NewChatServer(t *testing.T, turns ...Turn) *ChatServer {
	t.Helper()
	cs := &ChatServer{turns: turns}
	cs.Server = httptest.NewServer(http.HandlerFunc(cs.handle))
	t.Cleanup(cs.Close)
	return cs
}

// BaseURL returns the URL to configure as the OpenAI base URL.
func (cs *ChatServer) BaseURL() string { return cs.URL + "/v1/" }

// Requests returns the decoded request bodies received so far.
func (cs *ChatServer) Requests() []map[string]any {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]map[string]any(nil), cs.requests...)
}

func (cs *ChatServer) next(body map[string]any) Turn {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.requests = append(cs.requests, body)
	if len(cs.turns) == 0 {
		return Turn{Content: "ok"}
	}
	turn := cs.turns[0]
	cs.turns = cs.turns[1:]
	return turn
}

func (cs *ChatServer) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	turn := cs.next(body)

	if turn.Status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(turn.Status)
		_, _ = fmt.Fprintf(w, `{"error":{"message":"scripted failure","type":"server_error"}}`)
		return
	}

	if stream, _ := body["stream"].(bool); !stream {
		writeCompletion(w, turn)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	send := func(delta map[string]any, finish any) {
		chunk := map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion.chunk",
			"created": 1,
			"model":   "test-model",
			"choices": []any{map[string]any{"index": 0, "delta": delta, "finish_reason": finish}},
		}
		data, _ := json.Marshal(chunk)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if len(turn.ToolCalls) == 0 {
		send(map[string]any{"role": "assistant", "content": turn.Content}, nil)
		send(map[string]any{}, "stop")
	} else {
		for i, tc := range turn.ToolCalls {
			send(map[string]any{"role": "assistant", "tool_calls": []any{map[string]any{
				"index":    i,
				"id":       tc.ID,
				"type":     "function",
				"function": map[string]any{"name": tc.Name, "arguments": ""},
			}}}, nil)
			for _, chunk := range tc.ArgChunks {
				send(map[string]any{"tool_calls": []any{map[string]any{
					"index":    i,
					"function": map[string]any{"arguments": chunk},
				}}}, nil)
			}
		}
		send(map[string]any{}, "tool_calls")
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
}

func writeCompletion(w http.ResponseWriter, turn Turn) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": turn.Content},
		}},
	})
}

// GraphServer is an in-memory knowledge graph exposed as MCP tools
// create_entities and create_relations, plus one usage prompt.
type GraphServer struct {
	MCP *server.MCPServer

	mu        sync.Mutex
	entities  []map[string]any
	relations []map[string]any
	failTool  string
}

// NewGraphServer builds the server. Calls to failTool return a tool error.
func NewGraphServer(failTool string) *GraphServer {
	g := &GraphServer{failTool: failTool}
	g.MCP = server.NewMCPServer("graph-memory", "1.2.0",
		server.WithToolCapabilities(false),
		server.WithPromptCapabilities(false),
	)
	g.MCP.AddTool(mcp.NewTool("create_entities",
		mcp.WithDescription("Create entities in the knowledge graph."),
		mcp.WithArray("entities", mcp.Required(), mcp.Items(map[string]any{"type": "object"})),
	), g.createEntities)
	g.MCP.AddTool(mcp.NewTool("create_relations",
		mcp.WithDescription("Create relations between entities."),
		mcp.WithArray("relations", mcp.Required(), mcp.Items(map[string]any{"type": "object"})),
	), g.createRelations)
	g.MCP.AddPrompt(mcp.NewPrompt("memory_usage",
		mcp.WithPromptDescription("How to store knowledge."),
	), func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return mcp.NewGetPromptResult("usage", []mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent("Extract entities and relations from the note.")),
		}), nil
	})
	return g
}

// Entities returns every entity stored so far.
func (g *GraphServer) Entities() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]any(nil), g.entities...)
}

func (g *GraphServer) createEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return g.store(req, "entities", &g.entities)
}

func (g *GraphServer) createRelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return g.store(req, "relations", &g.relations)
}

func (g *GraphServer) store(req mcp.CallToolRequest, key string, into *[]map[string]any) (*mcp.CallToolResult, error) {
	if req.Params.Name == g.failTool {
		return mcp.NewToolResultError("graph is read-only"), nil
	}
	items, _ := req.GetArguments()[key].([]any)
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			*into = append(*into, m)
		}
	}
	out, _ := json.Marshal(items)
	return mcp.NewToolResultText(string(out)), nil
}
