// Package bundler realizes a composed configuration on top of esbuild.
//
// Each plugin spec is translated by an applier into esbuild options or into one of the
// external stage contracts from the plugin package. Nothing here decides which plugins
// run; that is entirely the composer's job.
package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/bundlecfg/internal/emitter"
	"github.com/wolfeidau/bundlecfg/internal/plugin"
)

var (
	// ErrUnknownPlugin indicates a plugin spec no applier understands
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrInvalidPayload indicates a plugin spec whose payload has the wrong type
	ErrInvalidPayload = errors.New("invalid plugin payload")
	// ErrNoEntryPoints indicates the entry point glob matched nothing
	ErrNoEntryPoints = errors.New("no entry points found")
	// ErrBuildFailed indicates esbuild reported errors
	ErrBuildFailed = errors.New("esbuild failed with errors")
)

type Options struct {
	// Project root, all other paths are relative to it
	Root string
	// Entry point glob pattern (e.g., "src/*.js")
	EntryPointGlob string
	// Output directory for built files
	OutputDir string
	// Directory for minification and other stage caches
	CacheDir string
	// Optional HTML template for the entry page, a built-in page is used when empty
	Template string
	// Title passed to the entry page template
	Title  string
	Logger zerolog.Logger
}

// DefaultOptions returns a sensible default configuration
func DefaultOptions() Options {
	return Options{
		Root:           ".",
		EntryPointGlob: "src/main.js",
		OutputDir:      "dist",
		CacheDir:       filepath.Join("node_modules", ".cache", "bundlecfg"),
		Title:          "app",
		Logger:         zerolog.Nop(),
	}
}

// Bundler runs one build for one emitted configuration.
type Bundler struct {
	cfg    *emitter.Config
	opts   Options
	root   string
	outdir string
	base   api.BuildOptions

	reporter plugin.Reporter

	minify   *plugin.Minify
	minifier plugin.Minifier

	analyze  *plugin.Analyze
	analyzer plugin.Analyzer

	vendor      *plugin.VendorPrecompile
	precompiler plugin.Precompiler

	parallel *plugin.ParallelCompile
	compiler plugin.ParallelCompiler
}

type applier func(b *Bundler, payload any) error

var appliers = map[string]applier{
	plugin.NameAlias: func(b *Bundler, payload any) error {
		p, err := payloadAs[plugin.Alias](plugin.NameAlias, payload)
		if err != nil {
			return err
		}
		b.base.Plugins = append(b.base.Plugins, aliasPlugin(p.Entries))
		return nil
	},
	plugin.NameDefine: func(b *Bundler, payload any) error {
		p, err := payloadAs[plugin.Define](plugin.NameDefine, payload)
		if err != nil {
			return err
		}
		for k, v := range p.Definitions {
			b.base.Define[k] = v
		}
		return nil
	},
	plugin.NameProgress: func(b *Bundler, payload any) error {
		p, err := payloadAs[plugin.Progress](plugin.NameProgress, payload)
		if err != nil {
			return err
		}
		b.reporter = &progressReporter{logger: b.opts.Logger, format: p.Format}
		return nil
	},
	plugin.NameExternals: func(b *Bundler, payload any) error {
		p, err := payloadAs[plugin.Externals](plugin.NameExternals, payload)
		if err != nil {
			return err
		}
		b.base.Plugins = append(b.base.Plugins, globalModulePlugin("external-global", externalGlobals(p.Globals)))
		return nil
	},
	plugin.NameMinify: func(b *Bundler, payload any) error {
		p, err := payloadAs[plugin.Minify](plugin.NameMinify, payload)
		if err != nil {
			return err
		}
		b.minify = &p
		b.base.Sourcemap = cond(p.SourceMap, api.SourceMapLinked, api.SourceMapNone)
		return nil
	},
	plugin.NameAnalyze: func(b *Bundler, payload any) error {
		p, err := payloadAs[plugin.Analyze](plugin.NameAnalyze, payload)
		if err != nil {
			return err
		}
		b.analyze = &p
		return nil
	},
	plugin.NameVendorPrecompile: func(b *Bundler, payload any) error {
		p, err := payloadAs[plugin.VendorPrecompile](plugin.NameVendorPrecompile, payload)
		if err != nil {
			return err
		}
		b.vendor = &p
		return nil
	},
	// Only Workers is used. Loaders and CacheDirectory have no esbuild counterpart.
	plugin.NameParallelCompile: func(b *Bundler, payload any) error {
		p, err := payloadAs[plugin.ParallelCompile](plugin.NameParallelCompile, payload)
		if err != nil {
			return err
		}
		b.parallel = &p
		return nil
	},
}

func payloadAs[T any](name string, payload any) (T, error) {
	switch p := payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %s got %T", ErrInvalidPayload, name, payload)
}

// New translates cfg into a runnable build.
func New(cfg *emitter.Config, opts Options) (*Bundler, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	nodeEnv, err := json.Marshal(cfg.Mode.String())
	if err != nil {
		return nil, err
	}

	b := &Bundler{
		cfg:    cfg,
		opts:   opts,
		root:   root,
		outdir: filepath.Join(root, opts.OutputDir),
		base: api.BuildOptions{
			AbsWorkingDir: root,
			Bundle:        true,
			Write:         true,
			Outdir:        filepath.Join(root, opts.OutputDir),
			EntryNames:    "[name]",
			Format:        api.FormatIIFE,
			Platform:      api.PlatformBrowser,
			Target:        api.ES2017,
			Sourcemap:     api.SourceMapLinked,
			Metafile:      true,
			PublicPath:    cfg.PublicPath,
			Define:        map[string]string{"process.env.NODE_ENV": string(nodeEnv)},
			LogLevel:      api.LogLevelSilent,
		},
		reporter: nopReporter{},
	}

	for _, spec := range cfg.Plugins {
		apply, ok := appliers[spec.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, spec.Name)
		}
		if err := apply(b, spec.Payload); err != nil {
			return nil, err
		}
	}

	b.minifier = &chunkMinifier{cacheDir: filepath.Join(root, opts.CacheDir), logger: opts.Logger}
	b.analyzer = &staticAnalyzer{root: root, outdir: b.outdir, logger: opts.Logger}
	b.precompiler = &vendorPrecompiler{root: root, outdir: b.outdir, define: b.base.Define, logger: opts.Logger}
	b.compiler = workerPool{}

	return b, nil
}

// Report describes a completed build.
type Report struct {
	Outputs    []string
	Injected   []string
	Page       string
	ReportFile string
	Duration   time.Duration
}

type runState struct {
	opts        api.BuildOptions
	entryPoints []string
	meta        *Metafile
	outputs     []string
	report      *Report
}

type stage struct {
	name string
	run  func(ctx context.Context, st *runState) error
}

// Run executes the build stages in order.
func (b *Bundler) Run(ctx context.Context) (*Report, error) {
	started := time.Now()

	st := &runState{
		opts:   b.base,
		meta:   &Metafile{},
		report: &Report{},
	}
	st.opts.Plugins = slices.Clone(b.base.Plugins)

	stages := b.stages()
	for i, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b.reporter.Stage(s.name, i+1, len(stages))

		if err := s.run(ctx, st); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}

	slices.Sort(st.outputs)
	st.report.Outputs = st.outputs
	st.report.Duration = time.Since(started)

	return st.report, nil
}

func (b *Bundler) stages() []stage {
	var stages []stage
	if b.vendor != nil {
		stages = append(stages, stage{name: "precompile", run: b.precompile})
	}
	stages = append(stages, stage{name: "compile", run: b.compile})
	if b.minify != nil {
		stages = append(stages, stage{name: "minify", run: b.minifyOutputs})
	}
	if b.analyze != nil {
		stages = append(stages, stage{name: "analyze", run: b.analyzeOutputs})
	}
	stages = append(stages, stage{name: "page", run: b.renderPage})
	return stages
}

func (b *Bundler) precompile(ctx context.Context, st *runState) error {
	injected, err := b.precompiler.Precompile(ctx, *b.vendor)
	if err != nil {
		return err
	}
	st.report.Injected = injected

	var libraries []string
	for _, libs := range b.vendor.Entries {
		libraries = append(libraries, libs...)
	}
	st.opts.Plugins = append(st.opts.Plugins, globalModulePlugin("vendor-registry", vendorGlobals(libraries)))

	return nil
}

func (b *Bundler) compile(ctx context.Context, st *runState) error {
	entryPoints, err := filepath.Glob(filepath.Join(b.root, b.opts.EntryPointGlob))
	if err != nil {
		return err
	}
	if len(entryPoints) == 0 {
		return ErrNoEntryPoints
	}
	st.entryPoints = entryPoints

	b.opts.Logger.Info().Strs("entrypoints", entryPoints).Msg("Building assets")

	if b.parallel == nil {
		return b.build(st, st.opts, entryPoints)
	}

	var mu sync.Mutex
	jobs := make([]func(context.Context) error, len(entryPoints))
	for i, ep := range entryPoints {
		jobs[i] = func(context.Context) error {
			sub := &runState{meta: &Metafile{}}
			if err := b.build(sub, st.opts, []string{ep}); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			st.meta.merge(sub.meta)
			st.outputs = append(st.outputs, sub.outputs...)
			return nil
		}
	}

	b.opts.Logger.Debug().Str("pool", b.parallel.ID).Int("workers", b.parallel.Workers).Msg("Compiling in parallel")

	return b.compiler.Compile(ctx, *b.parallel, jobs)
}

func (b *Bundler) build(st *runState, opts api.BuildOptions, entryPoints []string) error {
	opts.EntryPoints = entryPoints

	result := api.Build(opts)
	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			b.opts.Logger.Error().Str("error", msg.Text).Msg("Build error")
		}
		return ErrBuildFailed
	}

	for _, file := range result.OutputFiles {
		b.opts.Logger.Debug().Str("file", file.Path).Msg("Built file")
		st.outputs = append(st.outputs, file.Path)
	}

	meta, err := parseMetafile(result.Metafile)
	if err != nil {
		return fmt.Errorf("failed to parse metafile: %w", err)
	}
	st.meta.merge(meta)

	return nil
}

func (b *Bundler) minifyOutputs(ctx context.Context, st *runState) error {
	chunks := make([]plugin.Chunk, 0, len(st.outputs))
	for _, out := range st.outputs {
		chunks = append(chunks, plugin.Chunk{Name: chunkName(out), Path: out})
	}
	return b.minifier.Minify(ctx, *b.minify, chunks)
}

func (b *Bundler) analyzeOutputs(ctx context.Context, st *runState) error {
	raw, err := json.Marshal(st.meta)
	if err != nil {
		return err
	}

	reportFile, err := b.analyzer.Analyze(ctx, *b.analyze, raw)
	if err != nil {
		return err
	}
	st.report.ReportFile = reportFile

	return nil
}

func (b *Bundler) renderPage(_ context.Context, st *runState) error {
	templatePath := ""
	if b.opts.Template != "" {
		candidate := filepath.Join(b.root, b.opts.Template)
		if _, err := os.Stat(candidate); err == nil {
			templatePath = candidate
		}
	}

	pg, err := newPage(templatePath)
	if err != nil {
		return fmt.Errorf("failed to load page template: %w", err)
	}

	outdirRel, err := filepath.Rel(b.root, b.outdir)
	if err != nil {
		return err
	}

	scripts := slices.Clone(st.report.Injected)
	for _, ep := range st.entryPoints {
		rel, err := filepath.Rel(b.root, ep)
		if err != nil {
			return err
		}

		entryScripts, err := st.meta.LoadScripts(filepath.ToSlash(rel), filepath.ToSlash(outdirRel))
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		scripts = append(scripts, entryScripts...)
	}

	dest := filepath.Join(b.outdir, "index.html")
	if err := pg.render(dest, pageData(b.opts.Title, b.cfg.PublicPath, b.cfg.CDN, scripts)); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	st.report.Page = dest

	return nil
}
