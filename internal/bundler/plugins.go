package bundler

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/wolfeidau/bundlecfg/internal/alias"
)

// aliasPlugin rewrites "<alias>/..." imports to the aliased directory and hands the
// result back to esbuild so extension and index resolution still apply.
func aliasPlugin(entries []alias.Entry) api.Plugin {
	if len(entries) == 0 {
		return api.Plugin{
			Name:  "alias-stub",
			Setup: func(build api.PluginBuild) {},
		}
	}

	// longest names first so "@@" wins over "@"
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b alias.Entry) int {
		return len(b.Name) - len(a.Name)
	})

	names := make([]string, len(sorted))
	for i, e := range sorted {
		names[i] = regexp.QuoteMeta(e.Name)
	}
	filter := "^(" + strings.Join(names, "|") + ")(/|$)"

	return api.Plugin{
		Name: "alias",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: filter},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					for _, e := range sorted {
						rest, ok := strings.CutPrefix(args.Path, e.Name)
						if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
							continue
						}

						result := build.Resolve(filepath.Join(e.Path, rest), api.ResolveOptions{
							Kind:       args.Kind,
							ResolveDir: args.ResolveDir,
							Importer:   args.Importer,
						})
						if len(result.Errors) > 0 {
							return api.OnResolveResult{}, fmt.Errorf("alias %s: %s", e.Name, result.Errors[0].Text)
						}

						return api.OnResolveResult{Path: result.Path}, nil
					}

					return api.OnResolveResult{}, nil
				})
		},
	}
}

// globalModulePlugin resolves each library id to a virtual module that re-exports a
// runtime global instead of bundling the package.
func globalModulePlugin(name string, modules map[string]string) api.Plugin {
	ids := make([]string, 0, len(modules))
	for id := range modules {
		ids = append(ids, regexp.QuoteMeta(id))
	}
	slices.Sort(ids)

	namespace := name
	filter := "^(" + strings.Join(ids, "|") + ")$"

	return api.Plugin{
		Name: name,
		Setup: func(build api.PluginBuild) {
			if len(ids) == 0 {
				return
			}

			build.OnResolve(api.OnResolveOptions{Filter: filter},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      args.Path,
						Namespace: namespace,
					}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: namespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					contents := "module.exports = " + modules[args.Path] + ";"
					return api.OnLoadResult{
						Contents: &contents,
						Loader:   api.LoaderJS,
					}, nil
				})
		},
	}
}

// externalGlobals maps library ids to their global variable, e.g. vue -> globalThis["Vue"].
func externalGlobals(globals map[string]string) map[string]string {
	modules := make(map[string]string, len(globals))
	for id, global := range globals {
		modules[id] = fmt.Sprintf("globalThis[%q]", global)
	}
	return modules
}

// vendorGlobals maps library ids to their slot in the precompiled vendor registry.
func vendorGlobals(libraries []string) map[string]string {
	modules := make(map[string]string, len(libraries))
	for _, id := range libraries {
		modules[id] = fmt.Sprintf("globalThis[%q][%q]", vendorRegistry, id)
	}
	return modules
}
