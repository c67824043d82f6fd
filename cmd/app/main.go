package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/inkwell/internal"
	pkgconfig "github.com/starford/inkwell/pkg/config"
)

// Version is set at build time.
var Version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(Version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "inkwell",
		Usage:  "Personal Markdown notes with notebooks, tags and knowledge extraction",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, event stream and store watcher",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the note tools over MCP on stdin/stdout",
				Action: serveMCP,
			},
			{
				Name:      "memory",
				Usage:     "Extract knowledge from a note and print the report",
				ArgsUsage: "<note path>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "copy",
						Usage: "Copy the report to the clipboard",
					},
				},
				Action: memoryCommand,
			},
			{
				Name:   "status",
				Usage:  "Probe the knowledge extraction service",
				Action: statusCommand,
			},
			{
				Name:   "notebooks",
				Usage:  "List notebooks",
				Action: notebooksCommand,
			},
			{
				Name:   "tags",
				Usage:  "List every tag in use",
				Action: tagsCommand,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
