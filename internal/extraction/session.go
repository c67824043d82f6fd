package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go"

	"github.com/starford/inkwell/internal/apperr"
)

// ErrClosed is returned by Invoke once the session has been closed.
var ErrClosed = errors.New("extraction: session closed")

// EventKind identifies a streaming event emitted by Invoke.
type EventKind int

const (
	// EventToolStart fires when the model begins a new tool invocation.
	EventToolStart EventKind = iota + 1
	// EventArguments carries one fragment of streamed argument text.
	EventArguments
	// EventSave fires when a call's arguments are complete and the tool is
	// being executed on the server.
	EventSave
)

func (k EventKind) String() string {
	switch k {
	case EventToolStart:
		return "tool_start"
	case EventArguments:
		return "arguments"
	case EventSave:
		return "save"
	default:
		return "unknown"
	}
}

// Event is one step of an Invoke run.
type Event struct {
	Kind     EventKind
	Tool     string
	Fragment string
}

// Prompt is a server-provided system prompt.
type Prompt struct {
	Name        string
	Description string
	Text        string
}

// Session is a live connection to a tool server. It is not reused across
// unrelated runs and must be closed.
type Session struct {
	mc      *client.Client
	owner   *Client
	info    mcp.Implementation
	tools   []mcp.Tool
	prompts []Prompt

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Tools returns the server's tool catalog.
func (s *Session) Tools() []mcp.Tool { return s.tools }

// Prompts returns the system prompts loaded at connect time.
func (s *Session) Prompts() []Prompt { return s.prompts }

// ServerInfo returns "name vversion" for the connected server.
func (s *Session) ServerInfo() string {
	if s.info.Version == "" {
		return s.info.Name
	}
	return s.info.Name + " v" + s.info.Version
}

// Close releases the connection. It is safe to call more than once; after it
// returns no further events are delivered by Invoke.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.mc.Close()
	})
	return s.closeErr
}

// Invoke sends content to the model together with the system prompts and the
// tool catalog, then executes every tool call the model makes through MCP.
// onEvent observes tool starts, argument fragments and saves in the order they
// happen. The loop continues while the model keeps requesting tools, up to the
// configured number of rounds.
func (s *Session) Invoke(ctx context.Context, content string, onEvent func(Event)) ([]Outcome, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	emit := func(e Event) bool {
		if s.closed.Load() {
			return false
		}
		onEvent(e)
		return true
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(s.prompts)+1)
	for _, p := range s.prompts {
		if p.Text != "" {
			messages = append(messages, openai.SystemMessage(p.Text))
		}
	}
	messages = append(messages, openai.UserMessage(content))

	params := openai.ChatCompletionNewParams{
		Model:    s.owner.model,
		Messages: messages,
	}
	if len(s.tools) > 0 {
		params.Tools = toolParams(s.tools)
	}

	var outcomes []Outcome
	for round := 0; round < s.owner.maxRounds; round++ {
		t := &turn{s: s, emit: emit, started: map[int64]bool{}, names: map[int64]string{}, done: map[string]bool{}}
		if err := t.stream(ctx, params); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, t.outcomes...)
		if len(t.results) == 0 {
			return outcomes, nil
		}
		params.Messages = append(params.Messages, t.assistant)
		params.Messages = append(params.Messages, t.results...)
	}
	s.owner.logger.Warn("extraction stopped at round limit", slog.Int("rounds", s.owner.maxRounds))
	return outcomes, nil
}

// turn holds the state of one streamed model response.
type turn struct {
	s       *Session
	emit    func(Event) bool
	started map[int64]bool
	names   map[int64]string
	done    map[string]bool

	assistant openai.ChatCompletionMessageParamUnion
	results   []openai.ChatCompletionMessageParamUnion
	outcomes  []Outcome
}

func (r *turn) stream(ctx context.Context, params openai.ChatCompletionNewParams) error {
	stream := r.s.owner.llm.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		// A chunk opening call N+1 also finishes call N; N is saved before
		// N+1 is announced.
		if call, ok := acc.JustFinishedToolCall(); ok {
			if err := r.execute(ctx, callKey(call.ID, int64(call.Index)), call.ID, call.Name, call.Arguments); err != nil {
				return err
			}
		}

		for _, choice := range chunk.Choices {
			for _, tc := range choice.Delta.ToolCalls {
				r.names[tc.Index] += tc.Function.Name
				name := r.names[tc.Index]
				if !r.started[tc.Index] {
					r.started[tc.Index] = true
					if !r.emit(Event{Kind: EventToolStart, Tool: name}) {
						return ErrClosed
					}
				}
				if tc.Function.Arguments != "" {
					if !r.emit(Event{Kind: EventArguments, Tool: name, Fragment: tc.Function.Arguments}) {
						return ErrClosed
					}
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		if r.s.closed.Load() {
			return ErrClosed
		}
		return &apperr.ExtractionError{Stage: "model", Err: err}
	}
	if len(acc.Choices) == 0 {
		return nil
	}

	msg := acc.Choices[0].Message
	for i, tc := range msg.ToolCalls {
		if err := r.execute(ctx, callKey(tc.ID, int64(i)), tc.ID, tc.Function.Name, tc.Function.Arguments); err != nil {
			return err
		}
	}
	r.assistant = msg.ToParam()
	return nil
}

// execute runs one finished tool call through MCP. Calls already executed
// under the same key are skipped.
func (r *turn) execute(ctx context.Context, key, id, name, rawArgs string) error {
	if r.done[key] {
		return nil
	}
	r.done[key] = true

	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return &apperr.ExtractionError{Stage: "arguments", Err: fmt.Errorf("tool %s: %w", name, err)}
		}
	}
	if !r.emit(Event{Kind: EventSave, Tool: name}) {
		return ErrClosed
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := r.s.mc.CallTool(ctx, req)
	if err != nil {
		if r.s.closed.Load() {
			return ErrClosed
		}
		return &apperr.ExtractionError{Stage: "tool", Err: fmt.Errorf("call %s: %w", name, err)}
	}

	text := resultText(res)
	if res.IsError {
		return &apperr.ExtractionError{Stage: "tool", Err: fmt.Errorf("%s: %s", name, text)}
	}

	out := DecodeOutcome(name, text)
	if out.Kind != OutcomeUnknown && out.Entities == nil && out.Relations == nil {
		out = DecodeArguments(name, args)
		out.Raw = text
	}
	r.outcomes = append(r.outcomes, out)
	r.results = append(r.results, openai.ToolMessage(text, id))

	r.s.owner.logger.Debug("tool executed",
		slog.String("tool", name),
		slog.String("kind", string(out.Kind)))
	return nil
}

func callKey(id string, index int64) string {
	if id != "" {
		return id
	}
	return "#" + strconv.FormatInt(index, 10)
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// toolParams converts the MCP catalog into chat-completion tool definitions.
func toolParams(tools []mcp.Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(schemaOf(t)),
			},
		})
	}
	return out
}

func schemaOf(t mcp.Tool) map[string]any {
	raw := []byte(t.RawInputSchema)
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(t.InputSchema); err != nil {
			return map[string]any{"type": "object"}
		}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return m
}
