// Package plugin defines the build-stage plugins the composer emits and the narrow
// contracts of the external tools that realize them.
package plugin

import (
	"context"
	"encoding/json"

	"github.com/wolfeidau/bundlecfg/internal/alias"
)

// Names of the plugins the composer can emit.
const (
	NameAlias            = "alias"
	NameDefine           = "define"
	NameProgress         = "progress"
	NameExternals        = "externals"
	NameMinify           = "minify"
	NameAnalyze          = "analyze"
	NameVendorPrecompile = "vendor-precompile"
	NameParallelCompile  = "parallel-compile"
)

// Spec is a single composed plugin. Specs are built once per invocation and never mutated.
type Spec struct {
	Name     string `json:"name" yaml:"name"`
	Position int    `json:"position" yaml:"position"`
	Payload  any    `json:"payload" yaml:"payload"`
}

// Names returns the plugin names in order.
func Names(specs []Spec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

// Find returns the first spec called name.
func Find(specs []Spec, name string) (Spec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Alias registers import aliases with the resolver.
type Alias struct {
	Entries []alias.Entry `json:"entries" yaml:"entries"`
}

// Define binds constants into the bundle's global namespace. Values are JS source text.
type Define struct {
	Definitions map[string]string `json:"definitions" yaml:"definitions"`
}

// ProgressFormat selects how the progress reporter renders.
type ProgressFormat string

const ProgressMinimal ProgressFormat = "minimal"

// Progress configures the progress reporter.
type Progress struct {
	Format ProgressFormat `json:"format" yaml:"format"`
}

// Externals excludes libraries from the bundle, mapping each id to a global variable.
type Externals struct {
	Globals map[string]string `json:"globals" yaml:"globals"`
}

// Minify configures the minifier.
type Minify struct {
	Cache        bool   `json:"cache" yaml:"cache"`
	Parallel     bool   `json:"parallel" yaml:"parallel"`
	SourceMap    bool   `json:"sourceMap" yaml:"sourceMap"`
	DropDebugger bool   `json:"drop_debugger" yaml:"drop_debugger"`
	DropConsole  bool   `json:"drop_console" yaml:"drop_console"`
	ExcludeChunk string `json:"excludeChunk" yaml:"excludeChunk"`
}

// AnalyzerMode selects how the analyzer renders its report.
type AnalyzerMode string

const AnalyzerStatic AnalyzerMode = "static"

// Analyze configures the bundle analyzer.
type Analyze struct {
	Mode       AnalyzerMode `json:"analyzerMode" yaml:"analyzerMode"`
	Open       bool         `json:"openAnalyzer" yaml:"openAnalyzer"`
	ReportFile string       `json:"reportFilename" yaml:"reportFilename"`
}

// VendorPrecompile pre-bundles rarely changing libraries into a cached artifact.
type VendorPrecompile struct {
	Inject   bool                `json:"inject" yaml:"inject"`
	Debug    bool                `json:"debug" yaml:"debug"`
	Filename string              `json:"filename" yaml:"filename"`
	Path     string              `json:"path" yaml:"path"`
	Entries  map[string][]string `json:"entry" yaml:"entry"`
}

// ParallelCompile fans source transformation out across a worker pool.
type ParallelCompile struct {
	ID             string   `json:"id" yaml:"id"`
	Loaders        []string `json:"loaders" yaml:"loaders"`
	Workers        int      `json:"threadPool" yaml:"threadPool"`
	CacheDirectory bool     `json:"cacheDirectory" yaml:"cacheDirectory"`
}

// Chunk is an output unit the minifier may process.
type Chunk struct {
	Name string
	Path string
}

// Minifier compresses emitted chunks.
type Minifier interface {
	Minify(ctx context.Context, cfg Minify, chunks []Chunk) error
}

// Analyzer renders a report from bundler metadata.
type Analyzer interface {
	Analyze(ctx context.Context, cfg Analyze, metafile json.RawMessage) (string, error)
}

// Precompiler produces the vendor artifact and returns the files to inject.
type Precompiler interface {
	Precompile(ctx context.Context, cfg VendorPrecompile) ([]string, error)
}

// ParallelCompiler runs transformation jobs on a bounded pool.
type ParallelCompiler interface {
	Compile(ctx context.Context, cfg ParallelCompile, jobs []func(context.Context) error) error
}

// Reporter receives stage transitions.
type Reporter interface {
	Stage(name string, done, total int)
}
