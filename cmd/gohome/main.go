package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/joshp123/gohome-resideo/internal/config"
)

var version = "dev"

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "gohome",
		Usage:   "Resideo (Honeywell Home) bridge",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.yaml",
				Value:   config.DefaultPath,
				EnvVars: []string{"GOHOME_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			linkCommand(),
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(*cli.Context) error {
					fmt.Println(version)
					return nil
				},
			},
		},
		DefaultCommand: "run",
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("gohome")
	}
}
