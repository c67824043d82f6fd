package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/starford/inkwell/internal"
	"github.com/starford/inkwell/internal/memory"
	"github.com/starford/inkwell/internal/models"
)

// cliLogger writes operational messages to stderr so command output on
// stdout stays clean.
func cliLogger(level slog.Level) *slog.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
		Level:           log.Level(level),
	})
	return slog.New(l)
}

// components loads the config and wires the services for a one-shot command.
func components(ctx context.Context, cmd *cli.Command) (*internal.Config, *internal.Components, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := cliLogger(cfg.App.LogLevel)
	slog.SetDefault(logger)
	c, err := internal.Build(ctx,
		internal.WithConfig(cfg),
		internal.WithLogger(logger),
		internal.WithVersion(Version))
	if err != nil {
		return nil, nil, err
	}
	return cfg, c, nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// stdout carries the protocol; logs go to stderr.
	logger := cliLogger(cfg.App.LogLevel)
	slog.SetDefault(logger)
	return internal.ServeMCP(ctx,
		internal.WithConfig(cfg),
		internal.WithLogger(logger),
		internal.WithVersion(Version))
}

func memoryCommand(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("memory: note path is required")
	}
	_, c, err := components(ctx, cmd)
	if err != nil {
		return err
	}
	note, err := c.Notes.GetNote(ctx, id)
	if err != nil {
		return err
	}
	if note.Type != models.KindMarkdown {
		return fmt.Errorf("memory: not a markdown note: %s", id)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var last memory.State
	_, err = c.Memory.Run(ctx, note.Content, func(e memory.Event) {
		if e.State != last {
			last = e.State
			fmt.Fprintf(os.Stderr, "\n[%s] %s\n", e.State, e.Tool)
		}
		if e.Fragment != "" {
			fmt.Fprint(os.Stderr, e.Fragment)
		}
	})
	fmt.Fprintln(os.Stderr)
	if errors.Is(err, memory.ErrCanceled) {
		slog.Info("memory run canceled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}

	report := c.Memory.Snapshot().Report
	rendered, err := glamour.Render(report, "dark")
	if err != nil {
		rendered = report
	}
	fmt.Fprint(os.Stdout, rendered)

	if cmd.Bool("copy") {
		if err := clipboard.WriteAll(report); err != nil {
			slog.Warn("copy to clipboard failed", slog.String("error", err.Error()))
		} else {
			slog.Info("report copied to clipboard")
		}
	}
	return nil
}

func statusCommand(ctx context.Context, cmd *cli.Command) error {
	cfg, c, err := components(ctx, cmd)
	if err != nil {
		return err
	}
	st := c.MemoryStatus(ctx)
	if !st.Connected {
		fmt.Fprintf(os.Stdout, "disconnected (%s)\n", cfg.Memory.MCPURL)
		return nil
	}
	fmt.Fprintf(os.Stdout, "connected to %s at %s: %d tools, %d prompts\n",
		st.ServerInfo, cfg.Memory.MCPURL, st.ToolCount, st.PromptCount)
	return nil
}

func notebooksCommand(ctx context.Context, cmd *cli.Command) error {
	_, c, err := components(ctx, cmd)
	if err != nil {
		return err
	}
	nbs, err := c.Notes.ListNotebooks(ctx)
	if err != nil {
		return err
	}
	for _, nb := range nbs {
		fmt.Fprintf(os.Stdout, "%s\t%s\n", nb.ID, nb.Path)
	}
	return nil
}

func tagsCommand(ctx context.Context, cmd *cli.Command) error {
	_, c, err := components(ctx, cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, strings.Join(c.Notes.Tags(), "\n"))
	return nil
}
