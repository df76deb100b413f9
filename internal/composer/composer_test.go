package composer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/bundlecfg/internal/alias"
	"github.com/wolfeidau/bundlecfg/internal/buildenv"
	"github.com/wolfeidau/bundlecfg/internal/cdn"
	"github.com/wolfeidau/bundlecfg/internal/plugin"
	"github.com/wolfeidau/bundlecfg/internal/proxy"
	"pgregory.net/rapid"
)

func testInput(t *testing.T, mode buildenv.Mode, workers int) Input {
	t.Helper()

	table, err := cdn.Default()
	require.NoError(t, err)

	rules, err := proxy.Build([]proxy.RuleSpec{{Prefix: "/api", Target: "http://localhost:8080", ChangeOrigin: true}})
	require.NoError(t, err)

	return Input{
		Env: buildenv.Env{
			Mode: mode,
			Host: buildenv.Host{CPUs: workers, Workers: max(1, workers), Parallel: workers > 1},
		},
		Aliases: []alias.Entry{{Name: "@", Path: "/project/src"}},
		CDN:     table,
		Proxy:   rules,
		Options: DefaultOptions(),
	}
}

func TestCompose_development(t *testing.T) {
	res, err := Compose(testInput(t, buildenv.Development, 8))
	require.NoError(t, err)

	require.Equal(t, []string{
		plugin.NameAlias,
		plugin.NameDefine,
		plugin.NameProgress,
		plugin.NameVendorPrecompile,
		plugin.NameParallelCompile,
	}, plugin.Names(res.Plugins))

	for i, spec := range res.Plugins {
		require.Equal(t, i, spec.Position)
	}

	parallel, ok := plugin.Find(res.Plugins, plugin.NameParallelCompile)
	require.True(t, ok)
	require.Equal(t, 8, parallel.Payload.(plugin.ParallelCompile).Workers)
	require.True(t, parallel.Payload.(plugin.ParallelCompile).CacheDirectory)

	vendor, ok := plugin.Find(res.Plugins, plugin.NameVendorPrecompile)
	require.True(t, ok)
	payload := vendor.Payload.(plugin.VendorPrecompile)
	require.True(t, payload.Inject)
	require.Equal(t, []string{"vue", "vue-router", "axios", "lodash", "moment", "echarts"}, payload.Entries["vendor"])

	require.Equal(t, "/", res.PublicPath)
	require.Empty(t, res.Externals)
	require.Len(t, res.Assets, 6)
	require.Len(t, res.Proxy, 1)
}

func TestCompose_production(t *testing.T) {
	res, err := Compose(testInput(t, buildenv.Production, 8))
	require.NoError(t, err)

	require.Equal(t, []string{
		plugin.NameAlias,
		plugin.NameDefine,
		plugin.NameProgress,
		plugin.NameExternals,
		plugin.NameMinify,
		plugin.NameAnalyze,
	}, plugin.Names(res.Plugins))

	define, _ := plugin.Find(res.Plugins, plugin.NameDefine)
	minify, _ := plugin.Find(res.Plugins, plugin.NameMinify)
	analyze, _ := plugin.Find(res.Plugins, plugin.NameAnalyze)
	externals, _ := plugin.Find(res.Plugins, plugin.NameExternals)

	require.Less(t, define.Position, minify.Position)
	require.Less(t, minify.Position, analyze.Position)
	require.Less(t, externals.Position, minify.Position)

	m := minify.Payload.(plugin.Minify)
	require.True(t, m.DropDebugger)
	require.False(t, m.DropConsole)
	require.True(t, m.Cache)
	require.True(t, m.Parallel)
	require.Equal(t, "vendor", m.ExcludeChunk)

	a := analyze.Payload.(plugin.Analyze)
	require.Equal(t, plugin.AnalyzerStatic, a.Mode)
	require.False(t, a.Open)

	require.Equal(t, "/ui/", res.PublicPath)
	require.Equal(t, "Vue", res.Externals["vue"])
}

func TestCompose_defineIdenticalAcrossModes(t *testing.T) {
	dev, err := Compose(testInput(t, buildenv.Development, 2))
	require.NoError(t, err)
	prod, err := Compose(testInput(t, buildenv.Production, 2))
	require.NoError(t, err)

	devDefine, _ := plugin.Find(dev.Plugins, plugin.NameDefine)
	prodDefine, _ := plugin.Find(prod.Plugins, plugin.NameDefine)
	require.Equal(t, devDefine.Payload, prodDefine.Payload)
	require.Equal(t, `"/api/"`, devDefine.Payload.(plugin.Define).Definitions["sysHost"])
}

func TestCompose_modeExclusions(t *testing.T) {
	dev, err := Compose(testInput(t, buildenv.Development, 4))
	require.NoError(t, err)
	for _, name := range []string{plugin.NameMinify, plugin.NameAnalyze, plugin.NameExternals} {
		_, found := plugin.Find(dev.Plugins, name)
		require.False(t, found, "development must not contain %s", name)
	}

	prod, err := Compose(testInput(t, buildenv.Production, 4))
	require.NoError(t, err)
	for _, name := range []string{plugin.NameVendorPrecompile, plugin.NameParallelCompile} {
		_, found := plugin.Find(prod.Plugins, name)
		require.False(t, found, "production must not contain %s", name)
	}
}

func TestCompose_missingCDNEntry(t *testing.T) {
	in := testInput(t, buildenv.Production, 4)
	in.CDN = cdn.NewTable(map[buildenv.Mode][]cdn.Entry{
		buildenv.Production: {
			{Library: "vue-router", URL: "https://cdn.example.com/vue-router.js", Global: "VueRouter"},
		},
	})
	in.Options.Externals = map[string]string{"vue": "Vue", "vue-router": "VueRouter"}

	res, err := Compose(in)
	require.ErrorIs(t, err, cdn.ErrConfigurationInconsistency)
	require.Contains(t, err.Error(), "vue has no production CDN entry")
	require.Nil(t, res)
}

func TestCompose_developmentIgnoresExternals(t *testing.T) {
	in := testInput(t, buildenv.Development, 4)
	in.CDN = cdn.NewTable(nil)

	_, err := Compose(in)
	require.NoError(t, err)
}

func TestCompose_unknownMode(t *testing.T) {
	in := testInput(t, buildenv.Mode("staging"), 4)

	_, err := Compose(in)
	require.ErrorIs(t, err, buildenv.ErrUnknownMode)
}

func TestCompose_workersNeverZero(t *testing.T) {
	in := testInput(t, buildenv.Development, 0)
	in.Env.Host.Workers = 0

	res, err := Compose(in)
	require.NoError(t, err)

	parallel, _ := plugin.Find(res.Plugins, plugin.NameParallelCompile)
	require.Equal(t, 1, parallel.Payload.(plugin.ParallelCompile).Workers)
}

func TestCompose_resultDoesNotAliasInput(t *testing.T) {
	in := testInput(t, buildenv.Production, 4)

	res, err := Compose(in)
	require.NoError(t, err)

	res.Externals["vue"] = "Mutated"
	aliasSpec, _ := plugin.Find(res.Plugins, plugin.NameAlias)
	aliasSpec.Payload.(plugin.Alias).Entries[0].Path = "/elsewhere"

	require.Equal(t, "Vue", in.Options.Externals["vue"])
	require.Equal(t, "/project/src", in.Aliases[0].Path)
}

func TestCompose_deterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mode := rapid.SampledFrom([]buildenv.Mode{buildenv.Development, buildenv.Production}).Draw(rt, "mode")
		cpus := rapid.IntRange(0, 256).Draw(rt, "cpus")

		in := testInput(t, mode, cpus)
		in.Options.APIPrefix = rapid.StringMatching(`/[a-z]{0,12}/`).Draw(rt, "api_prefix")

		first, err := Compose(in)
		if err != nil {
			rt.Fatalf("compose failed: %v", err)
		}
		second, err := Compose(in)
		if err != nil {
			rt.Fatalf("compose failed: %v", err)
		}

		a, _ := json.Marshal(first.Plugins)
		b, _ := json.Marshal(second.Plugins)
		if string(a) != string(b) {
			rt.Fatalf("plugin sequences differ:\n%s\n%s", a, b)
		}

		parallel, ok := plugin.Find(first.Plugins, plugin.NameParallelCompile)
		if ok && parallel.Payload.(plugin.ParallelCompile).Workers != max(1, cpus) {
			rt.Fatalf("workers = %d, want %d", parallel.Payload.(plugin.ParallelCompile).Workers, max(1, cpus))
		}
	})
}
