package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/bundlecfg/internal/buildenv"
	"github.com/wolfeidau/bundlecfg/internal/cdn"
)

const proxyRules = `rules:
  - prefix: /api
    target: http://localhost:9000
    changeOrigin: true
    pathRewrite:
      - pattern: ^/api
        replacement: ""
`

func projectFlags(t *testing.T, mode buildenv.Mode) ConfigFlags {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "proxy.yaml"), []byte(proxyRules), 0o600))

	return ConfigFlags{
		Root:      root,
		Mode:      mode.String(),
		ProxyFile: "proxy.yaml",
		BasePath:  "/ui/",
		APIPrefix: "/api/",
		DefineKey: "sysHost",
	}
}

type emitted struct {
	Mode       string            `json:"mode" yaml:"mode"`
	PublicPath string            `json:"publicPath" yaml:"publicPath"`
	Externals  map[string]string `json:"externals" yaml:"externals"`
	Plugins    []struct {
		Name string `json:"name" yaml:"name"`
	} `json:"plugins" yaml:"plugins"`
	DevServer struct {
		Port  int    `json:"port" yaml:"port"`
		Host  string `json:"host" yaml:"host"`
		Proxy []struct {
			Prefix string `json:"prefix" yaml:"prefix"`
		} `json:"proxy" yaml:"proxy"`
	} `json:"devServer" yaml:"devServer"`
}

func (e emitted) pluginNames() []string {
	names := make([]string, len(e.Plugins))
	for i, p := range e.Plugins {
		names[i] = p.Name
	}
	return names
}

func TestComposeCmd(t *testing.T) {
	tests := []struct {
		name       string
		mode       buildenv.Mode
		format     string
		publicPath string
		plugins    []string
	}{
		{
			name:       "production json",
			mode:       buildenv.Production,
			format:     "json",
			publicPath: "/ui/",
			plugins:    []string{"alias", "define", "progress", "externals", "minify", "analyze"},
		},
		{
			name:       "development yaml",
			mode:       buildenv.Development,
			format:     "yaml",
			publicPath: "/",
			plugins:    []string{"alias", "define", "progress", "vendor-precompile", "parallel-compile"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := filepath.Join(t.TempDir(), "config."+tt.format)
			cmd := &ComposeCmd{
				ConfigFlags: projectFlags(t, tt.mode),
				Format:      tt.format,
				Output:      output,
			}

			require.NoError(t, cmd.Run(context.Background(), &Globals{Version: "test"}))

			raw, err := os.ReadFile(output)
			require.NoError(t, err)

			var got emitted
			if tt.format == "yaml" {
				require.NoError(t, yaml.Unmarshal(raw, &got))
			} else {
				require.NoError(t, json.Unmarshal(raw, &got))
			}

			require.Equal(t, tt.mode.String(), got.Mode)
			require.Equal(t, tt.publicPath, got.PublicPath)
			require.Equal(t, tt.plugins, got.pluginNames())
			require.Equal(t, 8081, got.DevServer.Port)
			require.Equal(t, "0.0.0.0", got.DevServer.Host)
			require.Len(t, got.DevServer.Proxy, 1)
			require.Equal(t, "/api", got.DevServer.Proxy[0].Prefix)

			if tt.mode.IsProduction() {
				require.Equal(t, "Vue", got.Externals["vue"])
			} else {
				require.Empty(t, got.Externals)
			}
		})
	}
}

func TestComposeCmd_errors(t *testing.T) {
	flags := projectFlags(t, buildenv.Production)
	flags.Mode = "staging"
	err := (&ComposeCmd{ConfigFlags: flags}).Run(context.Background(), &Globals{})
	require.ErrorIs(t, err, buildenv.ErrUnknownMode)

	// production externals missing from the CDN table
	flags = projectFlags(t, buildenv.Production)
	cdnFile := filepath.Join(flags.Root, "cdn.yaml")
	require.NoError(t, os.WriteFile(cdnFile, []byte(`production:
  - library: vue
    url: https://cdn.example.com/vue.min.js
    global: Vue
development: []
`), 0o600))
	flags.CDNFile = "cdn.yaml"

	err = (&ComposeCmd{ConfigFlags: flags, Output: filepath.Join(t.TempDir(), "out.json")}).Run(context.Background(), &Globals{})
	require.ErrorIs(t, err, cdn.ErrConfigurationInconsistency)
}

func TestCDNCheckCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.js" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "max-age=300")
		_, _ = w.Write([]byte("window.Lib = {};"))
	}))
	t.Cleanup(srv.Close)

	writeTable := func(t *testing.T, root string, file string) {
		t.Helper()
		table := fmt.Sprintf(`production:
  - library: lib
    url: %s/%s
    global: Lib
development: []
`, srv.URL, file)
		require.NoError(t, os.WriteFile(filepath.Join(root, "cdn.yaml"), []byte(table), 0o600))
	}

	flags := projectFlags(t, buildenv.Production)
	flags.CDNFile = "cdn.yaml"

	writeTable(t, flags.Root, "lib.js")
	cmd := &CDNCheckCmd{ConfigFlags: flags, Retries: 1}
	require.NoError(t, cmd.Run(context.Background(), &Globals{}))

	writeTable(t, flags.Root, "missing.js")
	err := cmd.Run(context.Background(), &Globals{})
	require.ErrorIs(t, err, cdn.ErrAssetUnavailable)
}

func TestBuildCmd_production(t *testing.T) {
	flags := projectFlags(t, buildenv.Production)
	main := `import Vue from "vue";
import _ from "lodash";
console.log(Vue, _, sysHost);
`
	require.NoError(t, os.WriteFile(filepath.Join(flags.Root, "src", "main.js"), []byte(main), 0o600))

	cmd := &BuildCmd{
		ConfigFlags: flags,
		BundleFlags: BundleFlags{
			Entry:    "src/main.js",
			OutDir:   "dist",
			CacheDir: ".cache",
			Template: "public/index.html",
			Title:    "app",
		},
	}
	require.NoError(t, cmd.Run(context.Background(), &Globals{}))

	require.FileExists(t, filepath.Join(flags.Root, "dist", "main.js"))
	require.FileExists(t, filepath.Join(flags.Root, "dist", "report.html"))

	page, err := os.ReadFile(filepath.Join(flags.Root, "dist", "index.html"))
	require.NoError(t, err)
	require.Contains(t, string(page), "lodash.min.js")
	require.Contains(t, string(page), `src="/ui/main.js"`)
}

func TestServeCmd_proxyOnlyInDevelopment(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("upstream " + r.URL.Path))
	}))
	t.Cleanup(upstream.Close)

	tests := []struct {
		name    string
		mode    buildenv.Mode
		status  int
		hits    int32
		watched bool
	}{
		{name: "development proxies", mode: buildenv.Development, status: http.StatusOK, hits: 1, watched: true},
		{name: "production serves static only", mode: buildenv.Production, status: http.StatusNotFound, hits: 0, watched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits.Store(0)

			flags := projectFlags(t, tt.mode)
			rules := fmt.Sprintf("rules:\n  - prefix: /api\n    target: %s\n", upstream.URL)
			require.NoError(t, os.WriteFile(filepath.Join(flags.Root, "proxy.yaml"), []byte(rules), 0o600))

			cmd := &ServeCmd{ConfigFlags: flags, BundleFlags: BundleFlags{OutDir: "dist"}, NoBuild: true}

			out, err := cmd.compose(context.Background(), zerolog.Nop())
			require.NoError(t, err)
			require.Len(t, out.config.DevServer.Proxy, 1)

			srv, err := cmd.newServer(out, zerolog.Nop())
			require.NoError(t, err)
			require.Equal(t, tt.watched, cmd.watchRules(out))

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.hits, hits.Load())
		})
	}
}
