// Package source invokes forester and reads its build output, producing the
// Forest snapshots consumed by the query cache.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/starford/arbor/internal/models"
)

// ArtifactName is the file forester leaves in its output directory.
const ArtifactName = "forest.json"

// Forester runs `forester query all` and reads forest.json build artifacts.
type Forester struct {
	binary       string
	root         string
	configPath   string
	artifactPath string
	logger       *slog.Logger
}

// ForesterOption configures a Forester.
type ForesterOption func(*Forester)

// WithBinary overrides the forester executable.
func WithBinary(bin string) ForesterOption {
	return func(f *Forester) { f.binary = bin }
}

// WithArtifactPath overrides where the build artifact is read from.
func WithArtifactPath(p string) ForesterOption {
	return func(f *Forester) { f.artifactPath = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ForesterOption {
	return func(f *Forester) { f.logger = l }
}

// NewForester creates an adapter for the forest rooted at root. configPath
// is relative to root unless absolute; the artifact location defaults to
// <root>/<output_dir>/forest.json as configured in forest.toml.
func NewForester(root, configPath string, opts ...ForesterOption) (*Forester, error) {
	f := &Forester{
		binary:     "forester",
		root:       root,
		configPath: configPath,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.artifactPath == "" {
		cfgFile := configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(root, cfgFile)
		}
		cfg, err := LoadForestConfig(cfgFile)
		if err != nil {
			return nil, err
		}
		f.artifactPath = filepath.Join(root, cfg.OutputDir(), ArtifactName)
	}
	return f, nil
}

// FetchForest runs forester and decodes its output. The caller bounds the
// call with ctx; when ctx expires the process is killed.
func (f *Forester) FetchForest(ctx context.Context) (models.Forest, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.binary, "query", "all", f.configPath)
	cmd.Dir = f.root
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		serr := &SourceError{Err: err, Stdout: stdout.String(), Stderr: stderr.String()}
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			serr.Kind = KindTimeout
			serr.Msg = fmt.Sprintf("forester query timed out after %s", time.Since(start).Round(time.Millisecond))
			serr.Err = nil
		case errors.As(err, &exitErr):
			serr.Kind = KindNonZeroExit
			serr.Msg = fmt.Sprintf("forester query exited with code %d", exitErr.ExitCode())
			serr.Err = nil
		default:
			serr.Kind = KindProcess
			serr.Msg = "failed to run forester"
		}
		return nil, serr
	}

	forest, err := DecodeForest(stdout.Bytes())
	if err != nil {
		return nil, &SourceError{
			Kind:   KindMalformedOutput,
			Msg:    "forester returned malformed output",
			Err:    err,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
	}

	f.logger.Debug("source: forester query finished",
		slog.Int("trees", forest.Len()),
		slog.Duration("elapsed", time.Since(start)))
	return forest, nil
}

// ReadBuildArtifact reads the last forest.json forester produced. It returns
// false when the file is absent or does not hold a list of trees that all
// carry a non-empty uri.
func (f *Forester) ReadBuildArtifact(_ context.Context) (models.Forest, bool) {
	data, err := os.ReadFile(f.artifactPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("source: read build artifact failed",
				slog.String("path", f.artifactPath),
				slog.String("error", err.Error()))
		}
		return nil, false
	}
	forest, err := DecodeArtifact(data)
	if err != nil {
		f.logger.Warn("source: build artifact rejected",
			slog.String("path", f.artifactPath),
			slog.String("error", err.Error()))
		return nil, false
	}
	return forest, true
}

// ArtifactPath returns the build artifact location.
func (f *Forester) ArtifactPath() string { return f.artifactPath }
