package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/wolfeidau/bundlecfg/internal/logger"
	"github.com/wolfeidau/bundlecfg/internal/plugin"
)

type ComposeCmd struct {
	ConfigFlags `embed:""`

	Format string `help:"output format" default:"json" enum:"json,yaml" env:"BUNDLECFG_FORMAT"`
	Output string `help:"write the configuration to this file instead of stdout" default:"" type:"path"`
}

func (c *ComposeCmd) Run(ctx context.Context, globals *Globals) error {
	log, _ := logger.ForInvocation(logger.Setup(globals.Debug), "compose")
	defer c.startTelemetry(ctx, log, globals.Version)()

	out, err := c.compose(ctx, log)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", c.Output, err)
		}
		defer f.Close()
		w = f
	}

	switch c.Format {
	case "yaml":
		err = out.config.WriteYAML(w)
	default:
		err = out.config.WriteJSON(w)
	}
	if err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	log.Info().
		Str("mode", out.env.Mode.String()).
		Strs("plugins", plugin.Names(out.config.Plugins)).
		Msg("Configuration composed")

	return nil
}
