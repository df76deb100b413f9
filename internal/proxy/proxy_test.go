package proxy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	rules, err := Build([]RuleSpec{
		{
			Prefix:       "/api/",
			Target:       "http://localhost:8080",
			ChangeOrigin: true,
			PathRewrite:  []RewriteSpec{{Pattern: "^/api", Replacement: ""}},
		},
		{
			Prefix: "/auth",
			Target: "https://sso.example.com",
			Secure: true,
		},
	})
	require.NoError(t, err)
	require.Len(t, rules, 2)

	require.Equal(t, "/api", rules[0].Prefix)
	require.Equal(t, "localhost:8080", rules[0].Target.Host)
	require.True(t, rules[0].ChangeOrigin)
	require.False(t, rules[0].Secure)
	require.Equal(t, "/auth", rules[1].Prefix)
	require.True(t, rules[1].Secure)
}

func TestBuild_errors(t *testing.T) {
	tests := []struct {
		name    string
		specs   []RuleSpec
		errType error
	}{
		{
			name: "identical prefixes",
			specs: []RuleSpec{
				{Prefix: "/api", Target: "http://a:1"},
				{Prefix: "/api/", Target: "http://b:1"},
			},
			errType: ErrOverlappingPrefix,
		},
		{
			name: "nested prefix",
			specs: []RuleSpec{
				{Prefix: "/api", Target: "http://a:1"},
				{Prefix: "/api/v2", Target: "http://b:1"},
			},
			errType: ErrOverlappingPrefix,
		},
		{
			name: "root overlaps everything",
			specs: []RuleSpec{
				{Prefix: "/api", Target: "http://a:1"},
				{Prefix: "/", Target: "http://b:1"},
			},
			errType: ErrOverlappingPrefix,
		},
		{
			name:    "relative target",
			specs:   []RuleSpec{{Prefix: "/api", Target: "localhost:8080"}},
			errType: ErrInvalidTarget,
		},
		{
			name:    "unsupported scheme",
			specs:   []RuleSpec{{Prefix: "/api", Target: "ws://localhost:8080"}},
			errType: ErrInvalidTarget,
		},
		{
			name:    "prefix without slash",
			specs:   []RuleSpec{{Prefix: "api", Target: "http://a:1"}},
			errType: ErrInvalidRule,
		},
		{
			name: "bad rewrite pattern",
			specs: []RuleSpec{{
				Prefix:      "/api",
				Target:      "http://a:1",
				PathRewrite: []RewriteSpec{{Pattern: "(", Replacement: ""}},
			}},
			errType: ErrInvalidRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.specs)
			require.ErrorIs(t, err, tt.errType)
		})
	}
}

func TestBuild_siblingPrefixesAreDisjoint(t *testing.T) {
	_, err := Build([]RuleSpec{
		{Prefix: "/api", Target: "http://a:1"},
		{Prefix: "/apis", Target: "http://b:1"},
	})
	require.NoError(t, err)
}

func TestRule_Match(t *testing.T) {
	rules, err := Build([]RuleSpec{{Prefix: "/api", Target: "http://a:1"}})
	require.NoError(t, err)
	rule := rules[0]

	require.True(t, rule.Match("/api"))
	require.True(t, rule.Match("/api/users"))
	require.False(t, rule.Match("/apis"))
	require.False(t, rule.Match("/"))
}

func TestRule_RewritePath(t *testing.T) {
	rules, err := Build([]RuleSpec{{
		Prefix: "/api",
		Target: "http://a:1",
		PathRewrite: []RewriteSpec{
			{Pattern: "^/api/v1", Replacement: "/legacy"},
			{Pattern: "^/api", Replacement: ""},
		},
	}})
	require.NoError(t, err)
	rule := rules[0]

	require.Equal(t, "/legacy/users", rule.RewritePath("/api/v1/users"))
	require.Equal(t, "/users", rule.RewritePath("/api/users"))
	require.Equal(t, "/other", rule.RewritePath("/other"))
}

func TestLoad(t *testing.T) {
	doc := `
rules:
  - prefix: /api
    target: http://localhost:8080
    changeOrigin: true
    pathRewrite:
      - pattern: ^/api
        replacement: ""
  - prefix: /files
    target: https://files.example.com
    secure: true
`
	rules, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, "/users", rules[0].RewritePath("/api/users"))

	raw, err := json.Marshal(rules[0])
	require.NoError(t, err)
	require.JSONEq(t, `{
		"prefix": "/api",
		"target": "http://localhost:8080",
		"changeOrigin": true,
		"secure": false,
		"pathRewrite": [{"pattern": "^/api", "replacement": ""}]
	}`, string(raw))
}

func TestLoad_errors(t *testing.T) {
	_, err := Load(strings.NewReader("rules:\n  - target: http://a:1\n"))
	require.ErrorIs(t, err, ErrInvalidRule)

	_, err = Load(strings.NewReader("routes: []\n"))
	require.ErrorIs(t, err, ErrInvalidRule)
}

func TestLoadFile(t *testing.T) {
	rules, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Empty(t, rules)

	path := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - prefix: /api\n    target: http://a:1\n"), 0o600))

	rules, err = LoadFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
}
