package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/bundlecfg/internal/bundler"
	"github.com/wolfeidau/bundlecfg/internal/logger"
	"github.com/wolfeidau/bundlecfg/internal/telemetry"
)

// BundleFlags configure the esbuild run for a composed configuration.
type BundleFlags struct {
	Entry    string `help:"entry point glob relative to the root" default:"src/main.js" env:"BUNDLECFG_ENTRY"`
	OutDir   string `help:"output directory relative to the root" default:"dist" env:"BUNDLECFG_OUT_DIR"`
	CacheDir string `help:"stage cache directory relative to the root" default:"node_modules/.cache/bundlecfg" env:"BUNDLECFG_CACHE_DIR"`
	Template string `help:"HTML entry page template relative to the root" default:"public/index.html" env:"BUNDLECFG_TEMPLATE"`
	Title    string `help:"title passed to the HTML entry page" default:"app" env:"BUNDLECFG_TITLE"`
}

func (b *BundleFlags) bundlerOptions(root string, log zerolog.Logger) bundler.Options {
	opts := bundler.DefaultOptions()
	opts.Root = root
	opts.EntryPointGlob = b.Entry
	opts.OutputDir = b.OutDir
	opts.CacheDir = b.CacheDir
	opts.Template = b.Template
	opts.Title = b.Title
	opts.Logger = log
	return opts
}

type BuildCmd struct {
	ConfigFlags `embed:""`
	BundleFlags `embed:""`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	log, _ := logger.ForInvocation(logger.Setup(globals.Debug), "build")
	defer c.startTelemetry(ctx, log, globals.Version)()

	out, err := c.compose(ctx, log)
	if err != nil {
		return err
	}

	report, err := runBuild(ctx, out, c.bundlerOptions(c.Root, log))
	if err != nil {
		return err
	}

	log.Info().
		Str("mode", out.env.Mode.String()).
		Int("outputs", len(report.Outputs)).
		Str("page", report.Page).
		Str("report", report.ReportFile).
		Dur("duration", report.Duration).
		Msg("Build complete")

	return nil
}

func runBuild(ctx context.Context, out *composition, opts bundler.Options) (*bundler.Report, error) {
	b, err := bundler.New(out.config, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to plan build: %w", err)
	}

	metrics := telemetry.GetMetrics()
	modeAttr := attribute.String("mode", out.env.Mode.String())

	var report *bundler.Report
	started := time.Now()

	err = telemetry.Span(ctx, "build", func(ctx context.Context) error {
		var err error
		report, err = b.Run(ctx)
		return err
	}, modeAttr)

	metrics.BuildDuration.Record(ctx, float64(time.Since(started).Milliseconds()), metric.WithAttributes(modeAttr))
	if err != nil {
		metrics.BuildFailuresTotal.Add(ctx, 1, metric.WithAttributes(modeAttr))
		return nil, fmt.Errorf("build failed: %w", err)
	}

	return report, nil
}
