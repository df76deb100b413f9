package bundler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/bundlecfg/internal/plugin"
)

// vendorRegistry is the global object the vendor artifact populates.
const vendorRegistry = "__vendor__"

var _ plugin.Precompiler = (*vendorPrecompiler)(nil)

// vendorPrecompiler bundles rarely changing libraries into a content-addressed artifact
// that is rebuilt only when the library list or the package manifests change.
type vendorPrecompiler struct {
	root   string
	outdir string
	define map[string]string
	logger zerolog.Logger
}

func (v *vendorPrecompiler) Precompile(ctx context.Context, cfg plugin.VendorPrecompile) ([]string, error) {
	var injected []string

	for _, name := range slices.Sorted(maps.Keys(cfg.Entries)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		libraries := cfg.Entries[name]
		key := contentKey(
			[]byte(strings.Join(libraries, "\n")),
			fileKey(filepath.Join(v.root, "package.json")),
			fileKey(filepath.Join(v.root, "package-lock.json")),
		)

		rel := path.Join(path.Clean(filepath.ToSlash(cfg.Path)), vendorFilename(cfg.Filename, name, key))
		dest := filepath.Join(v.outdir, filepath.FromSlash(rel))

		logger := v.logger.With().Str("entry", name).Str("file", rel).Logger()

		if _, err := os.Stat(dest); err == nil {
			logger.Debug().Msg("Vendor artifact up to date")
		} else {
			if cfg.Debug {
				logger.Debug().Strs("libraries", libraries).Msg("Precompiling vendor libraries")
			}
			if err := v.build(name, libraries, dest); err != nil {
				return nil, err
			}
			v.removeStale(cfg, name, dest)
			logger.Info().Msg("Vendor artifact built")
		}

		if cfg.Inject {
			injected = append(injected, rel)
		}
	}

	return injected, nil
}

func (v *vendorPrecompiler) build(name string, libraries []string, dest string) error {
	var src strings.Builder
	fmt.Fprintf(&src, "globalThis[%q] = globalThis[%q] || {};\n", vendorRegistry, vendorRegistry)
	for _, lib := range libraries {
		fmt.Fprintf(&src, "globalThis[%q][%q] = require(%q);\n", vendorRegistry, lib, lib)
	}

	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   src.String(),
			ResolveDir: v.root,
			Sourcefile: name + ".js",
			Loader:     api.LoaderJS,
		},
		AbsWorkingDir: v.root,
		Bundle:        true,
		Write:         true,
		Outfile:       dest,
		Format:        api.FormatIIFE,
		Platform:      api.PlatformBrowser,
		Target:        api.ES2017,
		Define:        v.define,
		LogLevel:      api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			v.logger.Error().Str("error", msg.Text).Msg("Vendor build error")
		}
		return fmt.Errorf("%w: vendor entry %s", ErrBuildFailed, name)
	}

	return nil
}

// removeStale deletes artifacts for the same entry left behind by earlier keys.
func (v *vendorPrecompiler) removeStale(cfg plugin.VendorPrecompile, name, current string) {
	pattern := filepath.Join(filepath.Dir(current), vendorFilename(cfg.Filename, name, "*"))

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}

	for _, m := range matches {
		if m == current {
			continue
		}
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			v.logger.Warn().Err(err).Str("file", m).Msg("Failed to remove stale vendor artifact")
		}
	}
}

// vendorFilename expands [name], [hash] and [hash:N] placeholders.
func vendorFilename(pattern, name, key string) string {
	out := strings.ReplaceAll(pattern, "[name]", name)

	for {
		start := strings.Index(out, "[hash")
		if start < 0 {
			break
		}
		end := strings.Index(out[start:], "]")
		if end < 0 {
			break
		}
		end += start

		hash := key
		var n int
		if _, err := fmt.Sscanf(out[start:end+1], "[hash:%d]", &n); err == nil && n > 0 && n < len(key) && key != "*" {
			hash = key[:n]
		}
		out = out[:start] + hash + out[end+1:]
	}

	return out
}
