package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mempirate/recast/config"
	"github.com/mempirate/recast/log"
)

func main() {
	app := &cli.App{
		Name:  "recast",
		Usage: "Fetch a web page and rewrite it with a language model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the settings file",
				Value:   config.DefaultPath,
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Env file loaded before reading credentials from the environment",
				Value: config.DefaultDotEnvPath,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "templates-dir",
				Usage: "Directory holding the prompt templates (overrides the settings file)",
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "API key for the model endpoint",
				EnvVars: config.APIKeyEnv,
			},
		},
		Before: func(c *cli.Context) error {
			if err := config.LoadDotEnv(c.String("env-file")); err != nil {
				return err
			}

			return log.SetLevel(c.String("log-level"))
		},
		Commands: []*cli.Command{
			runCommand(),
			templatesCommand(),
			pingCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger := log.NewLogger("main")
		logger.Fatal().Err(err).Msg("Exiting")
	}
}

// loadConfig reads the settings file and applies the global flag overrides. The
// default settings path may be missing.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"), !c.IsSet("config"))
	if err != nil {
		return nil, err
	}

	if dir := c.String("templates-dir"); dir != "" {
		cfg.TemplatesDir = dir
	}

	return cfg, nil
}
