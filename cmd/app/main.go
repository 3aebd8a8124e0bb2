package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/dossier/internal"
	pkgconfig "github.com/starford/dossier/pkg/config"
)

var version = "dev"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func generate(ctx context.Context, cmd *cli.Command) error {
	template := cmd.Args().First()
	if template == "" {
		return fmt.Errorf("usage: dossier generate [--format markdown|json] [--out file] <template.md>")
	}
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	// Logs go to stderr so the document can be piped from stdout.
	opts = append(opts, internal.WithLogOutput(os.Stderr))

	out := os.Stdout
	if path := cmd.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	failed, err := internal.Generate(ctx, template, cmd.String("format"), out, opts...)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d sections failed", failed), 2)
	}
	return nil
}

func ingest(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.Ingest(ctx, opts...)
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "dossier",
		Usage:   "Generate cited documents section by section from a table of contents and a source library",
		Version: version,
		Action:  serve,
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
				Usage:  "Run the HTTP API with live progress events",
				Action: serve,
			},
			{
				Name:      "generate",
				Usage:     "Generate one document from a template and print it",
				ArgsUsage: "<template.md>",
				Action:    generate,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: markdown or json",
						Value:   internal.OutputMarkdown,
					},
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Write the document to a file instead of stdout",
					},
				},
			},
			{
				Name:   "ingest",
				Usage:  "Index new and changed files in the sources directory",
				Action: ingest,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
