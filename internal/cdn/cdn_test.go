package cdn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/bundlecfg/internal/buildenv"
)

func TestDefault(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	for _, mode := range []buildenv.Mode{buildenv.Development, buildenv.Production} {
		entries := table.Lookup(mode)
		require.Len(t, entries, 6)
		for _, e := range entries {
			require.Equal(t, mode, e.Mode)
			require.Equal(t, Script, e.Kind)
			require.NotEmpty(t, e.Global)
		}
	}

	vue, ok := table.Find(buildenv.Production, "vue")
	require.True(t, ok)
	require.Equal(t, "Vue", vue.Global)
	require.True(t, strings.HasSuffix(vue.URL, ".min.js"))
}

func TestLoad_errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "missing url",
			doc:  "production:\n  - library: vue\n    global: Vue\n",
		},
		{
			name: "relative url",
			doc:  "production:\n  - library: vue\n    url: vue.js\n    global: Vue\n",
		},
		{
			name: "script without global",
			doc:  "production:\n  - library: vue\n    url: https://cdn.example.com/vue.js\n",
		},
		{
			name: "unknown kind",
			doc:  "production:\n  - library: vue\n    url: https://cdn.example.com/vue.js\n    global: Vue\n    kind: font\n",
		},
		{
			name: "unknown field",
			doc:  "staging:\n  - library: vue\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			require.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestLoad_styleWithoutGlobal(t *testing.T) {
	table, err := Load(strings.NewReader("production:\n  - library: element-ui\n    url: https://cdn.example.com/index.css\n    kind: style\n"))
	require.NoError(t, err)

	entries := table.Lookup(buildenv.Production)
	require.Len(t, entries, 1)
	require.Equal(t, Style, entries[0].Kind)

	_, ok := table.Find(buildenv.Production, "element-ui")
	require.False(t, ok, "style entries cannot satisfy an external")
}

func TestLookup_returnsCopy(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	entries := table.Lookup(buildenv.Production)
	entries[0].Library = "mutated"

	require.Equal(t, "vue", table.Lookup(buildenv.Production)[0].Library)
}

func TestValidate(t *testing.T) {
	table := NewTable(map[buildenv.Mode][]Entry{
		buildenv.Production: {
			{Library: "vue-router", URL: "https://cdn.example.com/vue-router.js", Global: "VueRouter"},
			{Library: "axios", URL: "https://cdn.example.com/axios.js", Global: "axios"},
		},
	})

	tests := []struct {
		name      string
		mode      buildenv.Mode
		externals map[string]string
		wantErr   string
	}{
		{
			name:      "subset is valid",
			mode:      buildenv.Production,
			externals: map[string]string{"axios": "axios"},
		},
		{
			name:      "no externals",
			mode:      buildenv.Production,
			externals: nil,
		},
		{
			name:      "vue missing from production",
			mode:      buildenv.Production,
			externals: map[string]string{"vue": "Vue", "axios": "axios"},
			wantErr:   "vue has no production CDN entry",
		},
		{
			name:      "global mismatch",
			mode:      buildenv.Production,
			externals: map[string]string{"axios": "Axios"},
			wantErr:   "axios is bound to Axios but the CDN entry exposes axios",
		},
		{
			name:      "empty global",
			mode:      buildenv.Production,
			externals: map[string]string{"axios": ""},
			wantErr:   "axios has no global binding",
		},
		{
			name:      "wrong mode",
			mode:      buildenv.Development,
			externals: map[string]string{"axios": "axios"},
			wantErr:   "axios has no development CDN entry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(table, tt.mode, tt.externals)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrConfigurationInconsistency)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestChecker_Check(t *testing.T) {
	var flaky atomic.Int32
	var nonGet atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			nonGet.Add(1)
		}
		switch r.URL.Path {
		case "/ok.js":
			w.Header().Set("Cache-Control", "max-age=3600")
			_, _ = w.Write([]byte("ok"))
		case "/flaky.js":
			if flaky.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	table := NewTable(map[buildenv.Mode][]Entry{
		buildenv.Production: {
			{Library: "ok", URL: srv.URL + "/ok.js", Global: "ok"},
			{Library: "flaky", URL: srv.URL + "/flaky.js", Global: "flaky"},
			{Library: "gone", URL: srv.URL + "/gone.js", Global: "gone"},
		},
	})

	checker := NewChecker(nil, 3)
	results, err := checker.Check(context.Background(), table, buildenv.Production)
	require.ErrorIs(t, err, ErrAssetUnavailable)
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	require.Equal(t, http.StatusOK, results[0].Status)
	require.NoError(t, results[1].Err)
	require.Equal(t, int32(2), flaky.Load())
	require.Error(t, results[2].Err)
	require.Equal(t, http.StatusNotFound, results[2].Status)
	require.Zero(t, nonGet.Load())

	// second pass is served from the cache
	results, _ = checker.Check(context.Background(), table, buildenv.Production)
	require.True(t, results[0].Cached)
}
