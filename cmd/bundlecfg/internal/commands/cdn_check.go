package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/bundlecfg/internal/buildenv"
	"github.com/wolfeidau/bundlecfg/internal/cdn"
	"github.com/wolfeidau/bundlecfg/internal/logger"
	"github.com/wolfeidau/bundlecfg/internal/telemetry"
)

type CDNCheckCmd struct {
	ConfigFlags `embed:""`

	CacheDir string `help:"HTTP cache directory relative to the root, memory only when empty" default:"node_modules/.cache/bundlecfg/http" env:"BUNDLECFG_HTTP_CACHE_DIR"`
	Retries  uint   `help:"attempts per asset" default:"3"`
}

func (c *CDNCheckCmd) Run(ctx context.Context, globals *Globals) error {
	log, _ := logger.ForInvocation(logger.Setup(globals.Debug), "cdn-check")
	defer c.startTelemetry(ctx, log, globals.Version)()

	override, err := buildenv.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	mode := override
	if mode == "" {
		mode = buildenv.Resolve(nil)
	}

	table, err := c.cdnTable()
	if err != nil {
		return err
	}

	cacheDir := c.CacheDir
	if cacheDir != "" && !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(c.Root, cacheDir)
	}

	checker := cdn.NewChecker(cdn.NewCachingHTTPClient(cacheDir), c.Retries)
	results, checkErr := checker.Check(ctx, table, mode)

	metrics := telemetry.GetMetrics()
	failed := 0
	for _, res := range results {
		attrs := metric.WithAttributes(attribute.String("library", res.Entry.Library), attribute.String("mode", mode.String()))
		metrics.CDNChecksTotal.Add(ctx, 1, attrs)

		evt := log.Info()
		if res.Err != nil {
			failed++
			metrics.CDNCheckFailuresTotal.Add(ctx, 1, attrs)
			evt = log.Error().Err(res.Err)
		}
		evt.Str("library", res.Entry.Library).
			Str("url", res.Entry.URL).
			Int("status", res.Status).
			Bool("cached", res.Cached).
			Msg("CDN asset")
	}

	if checkErr != nil {
		return fmt.Errorf("%d of %d %s CDN assets unavailable: %w", failed, len(results), mode, checkErr)
	}

	log.Info().Str("mode", mode.String()).Int("assets", len(results)).Msg("All CDN assets available")
	return nil
}
