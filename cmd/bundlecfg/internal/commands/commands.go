package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/bundlecfg/internal/alias"
	"github.com/wolfeidau/bundlecfg/internal/buildenv"
	"github.com/wolfeidau/bundlecfg/internal/cdn"
	"github.com/wolfeidau/bundlecfg/internal/composer"
	"github.com/wolfeidau/bundlecfg/internal/emitter"
	"github.com/wolfeidau/bundlecfg/internal/proxy"
	"github.com/wolfeidau/bundlecfg/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
}

// ConfigFlags are the composition inputs shared by every command.
type ConfigFlags struct {
	Root      string `help:"project root, aliases and rule files are resolved against it" default:"." env:"BUNDLECFG_ROOT" type:"existingdir"`
	Mode      string `help:"build mode override (development or production), NODE_ENV is used when empty" default:"" env:"BUNDLECFG_MODE"`
	CDNFile   string `help:"CDN table YAML, the embedded table is used when empty" default:"" env:"BUNDLECFG_CDN_FILE"`
	ProxyFile string `help:"proxy rule YAML relative to the root, a missing file means no rules" default:"proxy.yaml" env:"BUNDLECFG_PROXY_FILE"`
	BasePath  string `help:"public path for production builds" default:"/ui/" env:"BUNDLECFG_BASE_PATH"`
	APIPrefix string `help:"backend path prefix baked into the bundle" default:"/api/" env:"BUNDLECFG_API_PREFIX"`
	DefineKey string `help:"global the API prefix is bound to" default:"sysHost" env:"BUNDLECFG_DEFINE_KEY"`
	Telemetry bool   `help:"export traces and metrics over OTLP" default:"false" env:"BUNDLECFG_TELEMETRY"`
}

// composition is the outcome of resolving and composing one configuration.
type composition struct {
	env    buildenv.Env
	config *emitter.Config
}

func (f *ConfigFlags) proxyPath() string {
	if f.ProxyFile == "" || filepath.IsAbs(f.ProxyFile) {
		return f.ProxyFile
	}
	return filepath.Join(f.Root, f.ProxyFile)
}

func (f *ConfigFlags) cdnTable() (cdn.Table, error) {
	if f.CDNFile == "" {
		return cdn.Default()
	}
	path := f.CDNFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.Root, path)
	}
	return cdn.LoadFile(path)
}

func (f *ConfigFlags) options() composer.Options {
	opts := composer.DefaultOptions()
	opts.BasePath = f.BasePath
	opts.APIPrefix = f.APIPrefix
	opts.DefineKey = f.DefineKey
	return opts
}

// compose resolves the environment and every table, then composes and emits the
// configuration. Nothing is written or built.
func (f *ConfigFlags) compose(ctx context.Context, log zerolog.Logger) (*composition, error) {
	override, err := buildenv.ParseMode(f.Mode)
	if err != nil {
		return nil, err
	}

	var out *composition
	err = telemetry.Span(ctx, "compose", func(ctx context.Context) error {
		env := buildenv.Detect(override, nil, buildenv.LogicalCPUs)

		log.Debug().
			Str("mode", env.Mode.String()).
			Int("cpus", env.Host.CPUs).
			Int("workers", env.Host.Workers).
			Msg("Resolved build environment")

		aliases, err := alias.Resolve(f.Root, alias.DefaultSpecs())
		if err != nil {
			return err
		}

		table, err := f.cdnTable()
		if err != nil {
			return err
		}

		rules, err := proxy.LoadFile(f.proxyPath())
		if err != nil {
			return err
		}

		metrics := telemetry.GetMetrics()
		modeAttr := metric.WithAttributes(attribute.String("mode", env.Mode.String()))

		res, err := composer.Compose(composer.Input{
			Env:     env,
			Aliases: aliases,
			CDN:     table,
			Proxy:   rules,
			Options: f.options(),
		})
		if err != nil {
			if errors.Is(err, cdn.ErrConfigurationInconsistency) {
				metrics.CompositionFailuresTotal.Add(ctx, 1, modeAttr)
			}
			return err
		}
		metrics.CompositionsTotal.Add(ctx, 1, modeAttr)

		out = &composition{env: env, config: emitter.Emit(env, aliases, res)}
		return nil
	}, attribute.String("root", f.Root))
	if err != nil {
		return nil, fmt.Errorf("failed to compose configuration: %w", err)
	}

	return out, nil
}

// startTelemetry initialises exporters when enabled and returns the matching shutdown.
func (f *ConfigFlags) startTelemetry(ctx context.Context, log zerolog.Logger, version string) func() {
	if !f.Telemetry {
		return func() {}
	}

	shutdown, err := telemetry.Init(ctx, "bundlecfg", version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}
