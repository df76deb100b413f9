package bundler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/bundlecfg/internal/plugin"
	"golang.org/x/sync/errgroup"
)

var _ plugin.Minifier = (*chunkMinifier)(nil)

// chunkMinifier minifies emitted JavaScript chunks in place, skipping chunks whose name
// matches the exclusion pattern.
type chunkMinifier struct {
	cacheDir string
	logger   zerolog.Logger
}

func (m *chunkMinifier) Minify(ctx context.Context, cfg plugin.Minify, chunks []plugin.Chunk) error {
	var exclude *regexp.Regexp
	if cfg.ExcludeChunk != "" {
		var err error
		exclude, err = regexp.Compile(cfg.ExcludeChunk)
		if err != nil {
			return fmt.Errorf("invalid chunk exclusion %q: %w", cfg.ExcludeChunk, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(1)
	if cfg.Parallel {
		g.SetLimit(runtime.GOMAXPROCS(0))
	}

	for _, chunk := range chunks {
		if filepath.Ext(chunk.Path) != ".js" {
			continue
		}
		if exclude != nil && exclude.MatchString(chunk.Name) {
			m.logger.Debug().Str("chunk", chunk.Name).Msg("Skipping minification")
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return m.minifyFile(cfg, chunk)
		})
	}

	return g.Wait()
}

func (m *chunkMinifier) minifyFile(cfg plugin.Minify, chunk plugin.Chunk) error {
	src, err := os.ReadFile(chunk.Path)
	if err != nil {
		return fmt.Errorf("failed to read chunk %s: %w", chunk.Name, err)
	}

	var cachePath string
	if cfg.Cache && m.cacheDir != "" {
		key := contentKey(src, []byte(fmt.Sprintf("debugger=%t console=%t sourcemap=%t", cfg.DropDebugger, cfg.DropConsole, cfg.SourceMap)))
		cachePath = filepath.Join(m.cacheDir, "minify", key+".js")

		if cached, err := os.ReadFile(cachePath); err == nil {
			m.logger.Debug().Str("chunk", chunk.Name).Msg("Minified chunk served from cache")
			return os.WriteFile(chunk.Path, cached, 0o600)
		}
	}

	var drop api.Drop
	if cfg.DropDebugger {
		drop |= api.DropDebugger
	}
	if cfg.DropConsole {
		drop |= api.DropConsole
	}

	result := api.Transform(string(src), api.TransformOptions{
		Loader:            api.LoaderJS,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		Drop:              drop,
		Sourcemap:         cond(cfg.SourceMap, api.SourceMapInline, api.SourceMapNone),
		Sourcefile:        filepath.Base(chunk.Path),
		Target:            api.ES2017,
	})

	if len(result.Errors) > 0 {
		msgs := make([]string, len(result.Errors))
		for i, msg := range result.Errors {
			msgs[i] = msg.Text
		}
		return fmt.Errorf("%w: minify %s: %s", ErrBuildFailed, chunk.Name, strings.Join(msgs, "; "))
	}

	if cachePath != "" {
		if err := writeCache(cachePath, result.Code); err != nil {
			m.logger.Warn().Err(err).Str("chunk", chunk.Name).Msg("Failed to cache minified chunk")
		}
	}

	return os.WriteFile(chunk.Path, result.Code, 0o600)
}

func writeCache(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".minify-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		return errors.Join(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func chunkName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
