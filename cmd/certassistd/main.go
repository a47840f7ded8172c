package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/DebasishTripathy13/CA/internal/config"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "certassistd"
	app.Usage = "certificate request workflow service"

	var configPath string
	var cfg config.Config
	var logger *slog.Logger

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "config",
			Usage:       "Read environment defaults from the YAML file at `PATH`",
			EnvVar:      "CONFIG_PATH",
			Destination: &configPath,
		},
	}

	app.Before = func(c *cli.Context) error {
		if err := config.LoadFile(configPath); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
		cfg = config.FromEnv()
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger = newLogger(cfg.LogLevel)
		slog.SetDefault(logger)
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "run the HTTP API",
			Action: func(c *cli.Context) error {
				return serve(cfg, logger)
			},
		},
		{
			Name:  "migrate",
			Usage: "apply pending database migrations and exit",
			Action: func(c *cli.Context) error {
				return migrate(cfg, logger)
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "certassistd: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
