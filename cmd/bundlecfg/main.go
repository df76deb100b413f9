package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/bundlecfg/cmd/bundlecfg/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug    bool `help:"Enable debug mode."`
		Version  kong.VersionFlag
		Compose  commands.ComposeCmd  `cmd:"" help:"Print the resolved bundler configuration"`
		Build    commands.BuildCmd    `cmd:"" help:"Compose the configuration and bundle with esbuild"`
		Serve    commands.ServeCmd    `cmd:"" help:"Build for development and run the dev server"`
		CDNCheck commands.CDNCheckCmd `cmd:"" name:"cdn-check" help:"Verify the CDN assets for a mode are reachable"`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
