package emitter

import (
	"encoding/json"
	"io"
	"slices"

	"github.com/wolfeidau/bundlecfg/internal/alias"
	"github.com/wolfeidau/bundlecfg/internal/buildenv"
	"github.com/wolfeidau/bundlecfg/internal/cdn"
	"github.com/wolfeidau/bundlecfg/internal/composer"
	"github.com/wolfeidau/bundlecfg/internal/plugin"
	"github.com/wolfeidau/bundlecfg/internal/proxy"
	"gopkg.in/yaml.v3"
)

// Dev server settings shared by every invocation.
const (
	DevServerPort = 8081
	DevServerHost = "0.0.0.0"
)

// Config is the fully resolved configuration handed to the bundler.
type Config struct {
	Mode        buildenv.Mode     `json:"mode" yaml:"mode"`
	PublicPath  string            `json:"publicPath" yaml:"publicPath"`
	Resolve     Resolve           `json:"resolve" yaml:"resolve"`
	Externals   map[string]string `json:"externals,omitempty" yaml:"externals,omitempty"`
	Plugins     []plugin.Spec     `json:"plugins" yaml:"plugins"`
	Parallelism Parallelism       `json:"parallelism" yaml:"parallelism"`
	CDN         []cdn.Entry       `json:"cdn" yaml:"cdn"`
	DevServer   DevServer         `json:"devServer" yaml:"devServer"`
}

// Resolve carries module resolution settings.
type Resolve struct {
	Alias map[string]string `json:"alias" yaml:"alias"`
}

// Parallelism is derived from the host CPU count.
type Parallelism struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Workers int  `json:"workers" yaml:"workers"`
}

// DevServer configures the local development server.
type DevServer struct {
	Compress bool         `json:"compress" yaml:"compress"`
	Port     int          `json:"port" yaml:"port"`
	Host     string       `json:"host" yaml:"host"`
	Hot      bool         `json:"hot" yaml:"hot"`
	Inline   bool         `json:"inline" yaml:"inline"`
	HTTPS    bool         `json:"https" yaml:"https"`
	Proxy    []proxy.Rule `json:"proxy" yaml:"proxy"`
}

// Emit merges the alias table and a composition into a Config. Plugin order is kept
// exactly as composed.
func Emit(env buildenv.Env, aliases []alias.Entry, res *composer.Result) *Config {
	return &Config{
		Mode:       env.Mode,
		PublicPath: res.PublicPath,
		Resolve: Resolve{
			Alias: alias.Map(aliases),
		},
		Externals: res.Externals,
		Plugins:   slices.Clone(res.Plugins),
		Parallelism: Parallelism{
			Enabled: env.Host.Parallel,
			Workers: env.Host.Workers,
		},
		CDN: res.Assets,
		DevServer: DevServer{
			Compress: true,
			Port:     DevServerPort,
			Host:     DevServerHost,
			Hot:      false,
			Inline:   false,
			HTTPS:    false,
			Proxy:    res.Proxy,
		},
	}
}

// WriteJSON writes the config as indented JSON.
func (c *Config) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// WriteYAML writes the config as YAML.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
