package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/mklimuk/station/busctx"
	"github.com/mklimuk/station/cmd/station/console"
	"github.com/mklimuk/station/config"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"
)

var version string
var commit string
var date string

const configKey = "config"

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "station"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "climate station cli"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "station.yaml",
			Usage:   "configuration file",
		},
		&cli.StringFlag{
			Name:  "env",
			Value: ".env",
			Usage: "environment file",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		cfg, err := config.Load(ctx.String("config"), ctx.String("env"))
		if err != nil {
			return console.Exit(1, "configuration error: %s", err)
		}
		ctx.App.Metadata[configKey] = cfg

		charm := chlog.NewWithOptions(os.Stdout, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
			Prefix:          "station",
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") || cfg.Diagnostics() {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.Commands = cli.Commands{
		&measureCmd,
		&infoCmd,
		&heaterCmd,
		&configureCmd,
		&watchCmd,
		&mcp2221Cmd,
		&decodeCmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			return exerr.ExitCode()
		}
		log.Printf("unexpected error: %v", err)
		return 1
	}
	return 0
}

// commandContext marks the context verbose for bus tracing when requested.
func commandContext(c *cli.Context) context.Context {
	return busctx.SetVerbose(c.Context, c.Bool("verbose"))
}

func stationConfig(c *cli.Context) config.Config {
	cfg, ok := c.App.Metadata[configKey].(config.Config)
	if !ok {
		return config.Default()
	}
	return cfg
}
