package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/starford/arbor/internal/mcpserver"
	"github.com/starford/arbor/internal/textview"
)

// RunMCP serves the MCP tools over stdio. Logs must not go to stdout, so
// callers pass WithLogOutput(os.Stderr).
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()

	c, err := buildCore(app.config, logger, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.watcher.Run(gCtx, c.svc.HandleFileEvent); err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("MCP server starting on stdio")
		if err := mcpserver.New(c.svc).ServeStdio(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return errShutdown
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}

// RenderOptions selects what RunRender draws.
type RenderOptions struct {
	Current   string
	ExpandAll bool
	Color     bool
}

// RunRender loads the forest once and prints the transclusion view.
func RunRender(ctx context.Context, ro RenderOptions, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := buildCore(app.config, app.logger(), nil)
	if err != nil {
		return err
	}
	defer c.Close()

	_ = c.svc.Forest(ctx, false)
	if ro.ExpandAll {
		if err := c.svc.ExpandAll(); err != nil {
			return err
		}
	}
	styles := textview.PlainStyles()
	if ro.Color {
		styles = textview.DefaultStyles()
	}
	_, err = fmt.Fprint(app.output, textview.Render(c.svc.Render(ro.Current), styles))
	return err
}

// RunQuery prints one tree as JSON, or the whole forest when uri is empty.
func RunQuery(ctx context.Context, uri string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := buildCore(app.config, app.logger(), nil)
	if err != nil {
		return err
	}
	defer c.Close()

	var v any
	if uri == "" {
		v = c.svc.Forest(ctx, false)
	} else {
		d, err := c.svc.Tree(ctx, uri)
		if err != nil {
			return err
		}
		v = d
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(app.output, string(out))
	return err
}

// RunStatus fetches the forest once and prints the cache status.
func RunStatus(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := buildCore(app.config, app.logger(), nil)
	if err != nil {
		return err
	}
	defer c.Close()

	forest := c.svc.Forest(ctx, false)
	_, err = fmt.Fprintf(app.output, "%s (%d trees)\n", c.svc.Status(), forest.Len())
	return err
}
