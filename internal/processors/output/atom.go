package output

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bakkerme/ghsearch-feed/internal/core"
	"github.com/bakkerme/ghsearch-feed/internal/feed"
)

// AtomProcessor serializes the run's feed, validates it and writes it to a
// file or, when no path is configured, to stdout.
type AtomProcessor struct {
	name   string
	path   string
	stdout io.Writer
	logger *slog.Logger
}

func NewAtomProcessor(path string, stdout io.Writer, logger *slog.Logger) (*AtomProcessor, error) {
	path = strings.TrimSpace(path)
	if path == "" && stdout == nil {
		return nil, fmt.Errorf("atom output needs a path or stdout writer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AtomProcessor{
		name:   "atom",
		path:   path,
		stdout: stdout,
		logger: logger,
	}, nil
}

func (p *AtomProcessor) Name() string {
	return p.name
}

func (p *AtomProcessor) Validate() error {
	if p.path == "" && p.stdout == nil {
		return fmt.Errorf("atom output path is required")
	}
	if p.path != "" {
		if info, err := os.Stat(p.path); err == nil && info.IsDir() {
			return fmt.Errorf("atom output path %s is a directory", p.path)
		}
	}
	return nil
}

func (p *AtomProcessor) Deliver(ctx context.Context, run *core.Run) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("atom output validation failed: %w", err)
	}
	if run == nil || run.Feed == nil {
		return fmt.Errorf("run has no feed document")
	}
	data, err := feed.Marshal(run.Feed)
	if err != nil {
		return err
	}
	if err := feed.Validate(data); err != nil {
		return fmt.Errorf("generated feed is invalid: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	logger := core.LoggerFromContextOr(ctx, p.logger)
	if p.path == "" {
		if _, err := p.stdout.Write(data); err != nil {
			return fmt.Errorf("write feed to stdout: %w", err)
		}
		logger.Debug("wrote feed to stdout", slog.Int("entries", len(run.Feed.Entries)))
		return nil
	}
	if err := writeFileAtomic(p.path, data); err != nil {
		return err
	}
	logger.Info("wrote feed", slog.String("path", p.path), slog.Int("entries", len(run.Feed.Entries)))
	return nil
}

// writeFileAtomic writes into a temp file in the target directory and renames
// it over path, so readers never observe a partial feed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp feed: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp feed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp feed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp feed: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp feed: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename feed into place: %w", err)
	}
	return nil
}
