package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/arbor/internal"
	pkgconfig "github.com/starford/arbor/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if root := cmd.String("root"); root != "" {
		cfg.Forest.Root = root
	}
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func render(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunRender(ctx, internal.RenderOptions{
		Current:   cmd.String("current"),
		ExpandAll: cmd.Bool("all"),
		Color:     !cmd.Bool("plain"),
	}, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func query(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunQuery(ctx, cmd.Args().First(), internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func status(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunStatus(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func main() {
	cmd := &cli.Command{
		Name:   "arbor",
		Usage:  "Live, queryable model of a forester forest and its transclusion graph",
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
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Forest root directory (overridden by forest.root in the config file)",
				Sources: cli.EnvVars("ARBOR_FOREST_ROOT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, SSE stream and file watcher",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcp,
			},
			{
				Name:   "render",
				Usage:  "Print the transclusion view as a text tree",
				Action: render,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "current", Usage: "Tree the view is centred on"},
					&cli.BoolFlag{Name: "all", Usage: "Expand every tree"},
					&cli.BoolFlag{Name: "plain", Usage: "Disable colors"},
				},
			},
			{
				Name:      "query",
				Usage:     "Print one tree (or the whole forest) as JSON",
				ArgsUsage: "[uri]",
				Action:    query,
			},
			{
				Name:   "status",
				Usage:  "Fetch the forest once and print the cache status",
				Action: status,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
