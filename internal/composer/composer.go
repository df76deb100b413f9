// Package composer assembles the ordered plugin pipeline for a build mode.
//
// Composition is synchronous and pure: the same Input always yields the same Result, and
// nothing outside the returned value is touched. All mode branching lives here so the
// emitter can stay a plain merge.
package composer

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/wolfeidau/bundlecfg/internal/alias"
	"github.com/wolfeidau/bundlecfg/internal/buildenv"
	"github.com/wolfeidau/bundlecfg/internal/cdn"
	"github.com/wolfeidau/bundlecfg/internal/plugin"
	"github.com/wolfeidau/bundlecfg/internal/proxy"
)

// Options are the project constants the pipeline is built from.
type Options struct {
	// BasePath is the public path in production, development always serves from "/".
	BasePath string
	// DefineKey is the global the API prefix is bound to.
	DefineKey string
	// APIPrefix is the backend path prefix baked into the bundle.
	APIPrefix string
	// Externals maps library ids to globals, applied in production only.
	Externals map[string]string
	// VendorLibraries are pre-bundled in development.
	VendorLibraries []string
	// ReportFile is the analyzer report name relative to the output directory.
	ReportFile string
}

// DefaultOptions returns the project defaults.
func DefaultOptions() Options {
	return Options{
		BasePath:  "/ui/",
		DefineKey: "sysHost",
		APIPrefix: "/api/",
		Externals: map[string]string{
			"vue":        "Vue",
			"vue-router": "VueRouter",
			"axios":      "axios",
			"lodash":     "_",
			"mathjs":     "math",
			"moment":     "moment",
		},
		VendorLibraries: []string{"vue", "vue-router", "axios", "lodash", "moment", "echarts"},
		ReportFile:      "report.html",
	}
}

// Input is everything a composition depends on.
type Input struct {
	Env     buildenv.Env
	Aliases []alias.Entry
	CDN     cdn.Table
	Proxy   []proxy.Rule
	Options Options
}

// Result is the composed pipeline, owned by the caller until handed to the emitter.
type Result struct {
	Plugins    []plugin.Spec
	Externals  map[string]string
	PublicPath string
	Assets     []cdn.Entry
	Proxy      []proxy.Rule
}

type block func(p *pipeline, in Input, res *Result)

var modeBlocks = map[buildenv.Mode]block{
	buildenv.Production:  production,
	buildenv.Development: development,
}

// Compose builds the plugin pipeline for in.Env.Mode. Production externals are checked
// against the CDN table first, an inconsistency returns an error and no Result.
func Compose(in Input) (*Result, error) {
	modeBlock, ok := modeBlocks[in.Env.Mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", buildenv.ErrUnknownMode, in.Env.Mode)
	}

	if in.Env.Mode.IsProduction() {
		if err := cdn.Validate(in.CDN, in.Env.Mode, in.Options.Externals); err != nil {
			return nil, err
		}
	}

	define, err := json.Marshal(in.Options.APIPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to encode API prefix: %w", err)
	}

	res := &Result{
		PublicPath: "/",
		Assets:     in.CDN.Lookup(in.Env.Mode),
		Proxy:      slices.Clone(in.Proxy),
	}

	p := &pipeline{}

	// alias registration precedes every resolution dependent plugin
	p.add(plugin.NameAlias, plugin.Alias{Entries: slices.Clone(in.Aliases)})
	p.add(plugin.NameDefine, plugin.Define{
		Definitions: map[string]string{in.Options.DefineKey: string(define)},
	})
	p.add(plugin.NameProgress, plugin.Progress{Format: plugin.ProgressMinimal})

	modeBlock(p, in, res)

	res.Plugins = p.specs
	return res, nil
}

func production(p *pipeline, in Input, res *Result) {
	res.PublicPath = in.Options.BasePath
	res.Externals = maps.Clone(in.Options.Externals)

	// externals are registered before the minifier filters chunks by name
	p.add(plugin.NameExternals, plugin.Externals{Globals: maps.Clone(in.Options.Externals)})
	p.add(plugin.NameMinify, plugin.Minify{
		Cache:        true,
		Parallel:     true,
		SourceMap:    false,
		DropDebugger: true,
		DropConsole:  false,
		ExcludeChunk: "vendor",
	})
	p.add(plugin.NameAnalyze, plugin.Analyze{
		Mode:       plugin.AnalyzerStatic,
		Open:       false,
		ReportFile: in.Options.ReportFile,
	})
}

func development(p *pipeline, in Input, _ *Result) {
	p.add(plugin.NameVendorPrecompile, plugin.VendorPrecompile{
		Inject:   true,
		Debug:    true,
		Filename: "chunk-[name]s.[hash:8].js",
		Path:     "./js",
		Entries:  map[string][]string{"vendor": slices.Clone(in.Options.VendorLibraries)},
	})
	p.add(plugin.NameParallelCompile, plugin.ParallelCompile{
		ID:             "happy-babel-js",
		Loaders:        []string{"babel-loader?cacheDirectory=true"},
		Workers:        max(1, in.Env.Host.Workers),
		CacheDirectory: true,
	})
}

type pipeline struct {
	specs []plugin.Spec
}

func (p *pipeline) add(name string, payload any) {
	p.specs = append(p.specs, plugin.Spec{
		Name:     name,
		Position: len(p.specs),
		Payload:  payload,
	})
}
