package main

import (
	"os"

	"github.com/jaywantadh/xferstream/config"
	"github.com/jaywantadh/xferstream/pkg/env"
	"github.com/jaywantadh/xferstream/pkg/logging"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.Log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "xferstream",
		Usage: "Stream HTTP uploads and downloads with backpressure",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: ".",
				Usage: "directory holding config.yaml",
			},
			&cli.StringFlag{
				Name:  "engine",
				Usage: "transfer engine to use (http or sim), overrides the config",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			env.LoadEnv()
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if name := c.String("engine"); name != "" {
				cfg.Engine = name
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			logging.InitLogger(cfg.Debug || c.Bool("debug"))
			return nil
		},
		Commands: []*cli.Command{
			getCommand(),
			putCommand(),
			historyCommand(),
		},
	}
}
