// Package assistant answers chat questions about notes and suggests tags
// using an OpenAI-compatible chat endpoint.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/storage"
)

// Roles accepted in chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	chatPrompt = "You are a helpful assistant for a personal note collection. " +
		"Answer using the following context when it is relevant:\n"
	tagPrompt = "You generate tags for markdown notes. Reply with 3 to 5 of the " +
		"most relevant tags as short English words or phrases, separated by commas, " +
		"and nothing else."

	maxTags = 5
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Assistant wraps the chat endpoint.
type Assistant struct {
	llm      openai.Client
	model    openai.ChatModel
	tagModel openai.ChatModel
	logger   *slog.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithEndpoint sets the base URL and API key of the chat endpoint.
func WithEndpoint(baseURL, apiKey string) Option {
	return func(a *Assistant) {
		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		a.llm = openai.NewClient(opts...)
	}
}

// WithModels sets the chat model and the model used for tag suggestion. An
// empty tag model falls back to the chat model.
func WithModels(chat, tags string) Option {
	return func(a *Assistant) {
		if chat != "" {
			a.model = openai.ChatModel(chat)
		}
		if tags != "" {
			a.tagModel = openai.ChatModel(tags)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

// New creates an Assistant.
func New(opts ...Option) *Assistant {
	a := &Assistant{
		llm:    openai.NewClient(),
		model:  openai.ChatModelGPT4oMini,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tagModel == "" {
		a.tagModel = a.model
	}
	return a
}

// Chat answers the last user message of history, with contextText given to
// the model as a system message.
func (a *Assistant) Chat(ctx context.Context, history []Message, contextText string) (string, error) {
	if len(history) == 0 {
		return "", apperr.Invalid("chat history is empty")
	}
	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(chatPrompt + contextText)}
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			return "", apperr.Invalid("unknown chat role %q", m.Role)
		}
	}
	return a.complete(ctx, a.model, msgs, 0)
}

// SuggestTags asks the model for tags describing text.
func (a *Assistant) SuggestTags(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}
	reply, err := a.complete(ctx, a.tagModel, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(tagPrompt),
		openai.UserMessage("Generate tags for the following content:\n\n" + text),
	}, 100)
	if err != nil {
		return nil, err
	}
	tags := ParseTags(reply)
	a.logger.Debug("tags suggested", slog.Int("count", len(tags)))
	return tags, nil
}

func (a *Assistant) complete(ctx context.Context, model openai.ChatModel, msgs []openai.ChatCompletionMessageParamUnion, maxTokens int64) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    msgs,
		Temperature: openai.Float(0.7),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(maxTokens)
	}
	res, err := a.llm.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return res.Choices[0].Message.Content, nil
}

// ParseTags splits a comma or newline separated model reply into at most five
// clean, unique tags.
func ParseTags(reply string) []string {
	parts := strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == '\n' || r == '，'
	})
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), "#\"'`*-. ")
		if p != "" {
			tags = append(tags, p)
		}
	}
	tags = storage.Dedupe(tags)
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags
}
