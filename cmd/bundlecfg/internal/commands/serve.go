package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/bundlecfg/internal/buildenv"
	"github.com/wolfeidau/bundlecfg/internal/devserver"
	"github.com/wolfeidau/bundlecfg/internal/logger"
)

type ServeCmd struct {
	ConfigFlags `embed:""`
	BundleFlags `embed:""`

	CORSOrigins []string `help:"allowed CORS origins, CORS is off when empty" env:"BUNDLECFG_CORS_ORIGINS"`
	NoBuild     bool     `help:"serve the existing output directory without building" default:"false"`
	NoWatch     bool     `help:"do not reload the proxy rule file on change" default:"false"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log, _ := logger.ForInvocation(logger.Setup(globals.Debug), "serve")
	defer c.startTelemetry(ctx, log, globals.Version)()

	if c.Mode == "" {
		c.Mode = buildenv.Development.String()
	}

	out, err := c.compose(ctx, log)
	if err != nil {
		return err
	}
	if out.env.Mode.IsProduction() {
		log.Warn().Msg("Serving a production build, proxy rules are disabled")
	}

	if !c.NoBuild {
		if _, err := runBuild(ctx, out, c.bundlerOptions(c.Root, log)); err != nil {
			return err
		}
	}

	srv, err := c.newServer(out, log)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if c.watchRules(out) {
		watcher, err := srv.WatchRules(c.proxyPath())
		if err != nil {
			return err
		}
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	return g.Wait()
}

// newServer creates the dev server for a composition. Proxy rules only apply in development.
func (c *ServeCmd) newServer(out *composition, log zerolog.Logger) (*devserver.Server, error) {
	cfg := out.config.DevServer
	if out.env.Mode.IsProduction() {
		cfg.Proxy = nil
	}

	srv, err := devserver.New(cfg, devserver.Options{
		StaticDir:   filepath.Join(c.Root, c.OutDir),
		CORSOrigins: c.CORSOrigins,
		Tracing:     c.Telemetry,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dev server: %w", err)
	}

	return srv, nil
}

func (c *ServeCmd) watchRules(out *composition) bool {
	return !c.NoWatch && c.proxyPath() != "" && !out.env.Mode.IsProduction()
}
