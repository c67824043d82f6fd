package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/inkwell/internal/extraction"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	Memory MemoryConfig      `yaml:"memory"`
	LLM    LLMConfig         `yaml:"llm"`
	Auth   AuthConfig        `yaml:"auth"`
	Events EventsConfig      `yaml:"events"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Memory.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Events.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds the note store root and the base-name patterns excluded
// from listings.
type StoreConfig struct {
	Path   string   `yaml:"path"`
	Ignore []string `yaml:"ignore"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// MemoryConfig configures the knowledge extraction pipeline.
type MemoryConfig struct {
	MCPURL    string        `yaml:"mcp_url"`
	Transport string        `yaml:"transport"`
	MaxRounds int           `yaml:"max_rounds"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Validate validates the memory configuration. An empty MCP URL is allowed;
// runs then fail with a connection error.
func (c *MemoryConfig) Validate() error {
	if c.Transport == "" {
		c.Transport = extraction.TransportSSE
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Transport, validation.In(extraction.TransportSSE, extraction.TransportHTTP)),
		validation.Field(&c.MaxRounds, validation.Min(0), validation.Max(32)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// LLMConfig configures the OpenAI-compatible chat endpoint.
type LLMConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	TagModel string `yaml:"tag_model"`
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Model, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// EventsConfig configures the event stream.
type EventsConfig struct {
	TagsThrottle time.Duration `yaml:"tags_throttle"`
	// History is how many events are kept for clients resuming with
	// Last-Event-ID.
	History   int           `yaml:"history"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TagsThrottle, validation.Min(time.Duration(0))),
		validation.Field(&c.History, validation.Min(0), validation.Max(4096)),
		validation.Field(&c.KeepAlive, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Path:   "./notes",
			Ignore: []string{".*"},
		},
		Memory: MemoryConfig{
			Transport: extraction.TransportSSE,
			MaxRounds: extraction.DefaultMaxRounds,
			Timeout:   2 * time.Minute,
		},
		LLM: LLMConfig{
			Model: "gpt-4o-mini",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Events: EventsConfig{
			TagsThrottle: 2 * time.Second,
			History:      128,
			KeepAlive:    25 * time.Second,
		},
	}
}
