// Package extraction is the knowledge extraction client: it connects to an
// MCP tool server, reads its tool catalog and system prompts, and drives a
// chat model that chooses and fills those tools while streaming its progress.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/starford/inkwell/internal/apperr"
)

// Transports accepted by WithTransport.
const (
	TransportSSE  = "sse"
	TransportHTTP = "http"
)

// DefaultMaxRounds bounds how many model turns one Invoke may take.
const DefaultMaxRounds = 4

// Dialer opens an MCP client for url. The returned client is not started.
type Dialer func(ctx context.Context, url string) (*client.Client, error)

// Client creates extraction sessions. It holds no connection itself; every
// Connect opens a fresh handle.
type Client struct {
	dial       Dialer
	llm        openai.Client
	model      openai.ChatModel
	maxRounds  int
	clientInfo mcp.Implementation
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTransport selects the MCP transport used to reach the tool server.
func WithTransport(name string) Option {
	return func(c *Client) {
		if name == TransportHTTP {
			c.dial = dialStreamableHTTP
		} else {
			c.dial = dialSSE
		}
	}
}

// WithDialer overrides how MCP clients are opened.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithLLM configures the OpenAI-compatible chat endpoint that picks tools.
func WithLLM(baseURL, apiKey, model string) Option {
	return func(c *Client) {
		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		c.llm = openai.NewClient(opts...)
		c.model = openai.ChatModel(model)
	}
}

// WithMaxRounds caps the number of model turns per Invoke.
func WithMaxRounds(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRounds = n
		}
	}
}

// WithClientInfo sets the implementation info sent during initialization.
func WithClientInfo(name, version string) Option {
	return func(c *Client) { c.clientInfo = mcp.Implementation{Name: name, Version: version} }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client. Without WithLLM the OpenAI defaults (and the
// OPENAI_API_KEY environment variable) apply.
func NewClient(opts ...Option) *Client {
	c := &Client{
		dial:       dialSSE,
		llm:        openai.NewClient(),
		model:      openai.ChatModelGPT4oMini,
		maxRounds:  DefaultMaxRounds,
		clientInfo: mcp.Implementation{Name: "inkwell", Version: "dev"},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func dialSSE(_ context.Context, url string) (*client.Client, error) {
	return client.NewSSEMCPClient(url)
}

func dialStreamableHTTP(_ context.Context, url string) (*client.Client, error) {
	return client.NewStreamableHttpClient(url)
}

// Connect opens a session: it starts the transport, initializes the MCP
// handshake and loads the tool catalog and system prompts. Any failure
// releases the handle and returns a *apperr.ConnectionError. The caller must
// Close the returned session.
func (c *Client) Connect(ctx context.Context, url string) (*Session, error) {
	if strings.TrimSpace(url) == "" {
		return nil, &apperr.ConnectionError{URL: url, Err: fmt.Errorf("%w: empty url", apperr.ErrInvalidArgument)}
	}
	mc, err := c.dial(ctx, url)
	if err != nil {
		return nil, &apperr.ConnectionError{URL: url, Err: err}
	}

	s, err := c.handshake(ctx, mc)
	if err != nil {
		_ = mc.Close()
		return nil, &apperr.ConnectionError{URL: url, Err: err}
	}

	c.logger.Info("extraction session opened",
		slog.String("url", url),
		slog.String("server", s.ServerInfo()),
		slog.Int("tools", len(s.tools)),
		slog.Int("prompts", len(s.prompts)))
	return s, nil
}

func (c *Client) handshake(ctx context.Context, mc *client.Client) (*Session, error) {
	if err := mc.Start(ctx); err != nil {
		return nil, fmt.Errorf("start transport: %w", err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = c.clientInfo
	req.Params.Capabilities = mcp.ClientCapabilities{}

	res, err := mc.Initialize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	tools, err := mc.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	for _, t := range tools.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool catalog contains an unnamed tool")
		}
	}

	var prompts []Prompt
	if res.Capabilities.Prompts != nil {
		if prompts, err = loadPrompts(ctx, mc); err != nil {
			return nil, err
		}
	}

	return &Session{
		mc:      mc,
		owner:   c,
		info:    res.ServerInfo,
		tools:   tools.Tools,
		prompts: prompts,
	}, nil
}

// loadPrompts fetches every prompt that needs no required arguments and keeps
// its text as a system prompt.
func loadPrompts(ctx context.Context, mc *client.Client) ([]Prompt, error) {
	list, err := mc.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	var out []Prompt
	for _, p := range list.Prompts {
		if hasRequiredArgs(p) {
			continue
		}
		req := mcp.GetPromptRequest{}
		req.Params.Name = p.Name
		res, err := mc.GetPrompt(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("get prompt %s: %w", p.Name, err)
		}
		var parts []string
		for _, m := range res.Messages {
			if tc, ok := m.Content.(mcp.TextContent); ok && tc.Text != "" {
				parts = append(parts, tc.Text)
			}
		}
		out = append(out, Prompt{Name: p.Name, Description: p.Description, Text: strings.Join(parts, "\n\n")})
	}
	return out, nil
}

func hasRequiredArgs(p mcp.Prompt) bool {
	for _, a := range p.Arguments {
		if a.Required {
			return true
		}
	}
	return false
}

// Status is the result of a best-effort health probe.
type Status struct {
	Connected   bool   `json:"connected"`
	ServerInfo  string `json:"serverInfo,omitempty"`
	ToolCount   int    `json:"toolCount,omitempty"`
	PromptCount int    `json:"promptCount,omitempty"`
}

// Status connects, reads the catalog and disconnects. Any failure collapses to
// a disconnected status.
func (c *Client) Status(ctx context.Context, url string) Status {
	s, err := c.Connect(ctx, url)
	if err != nil {
		c.logger.Debug("extraction status probe failed",
			slog.String("url", url),
			slog.String("error", err.Error()))
		return Status{Connected: false}
	}
	defer s.Close()
	return Status{
		Connected:   true,
		ServerInfo:  s.ServerInfo(),
		ToolCount:   len(s.tools),
		PromptCount: len(s.prompts),
	}
}
