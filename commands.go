package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/mempirate/recast/backend"
	"github.com/mempirate/recast/config"
	"github.com/mempirate/recast/log"
	"github.com/mempirate/recast/pipeline"
	"github.com/mempirate/recast/prompt"
	"github.com/mempirate/recast/render"
	"github.com/mempirate/recast/scrape"
	"github.com/mempirate/recast/store"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Process one or more URLs",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "url",
				Aliases:  []string{"u"},
				Usage:    "URL to process (repeatable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "template",
				Aliases: []string{"t"},
				Usage:   "Prompt template name",
				Value:   pipeline.DefaultTemplate,
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format (markdown, html, text, json)",
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Model name (overrides the settings file)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the result to this file (single URL only)",
			},
			&cli.StringFlag{
				Name:  "output-dir",
				Usage: "Write each result to a file named after the page in this directory",
			},
			&cli.IntFlag{
				Name:  "max-length",
				Usage: "Maximum characters of page text sent to the model",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Page fetch timeout",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "URLs processed at the same time",
				Value: 1,
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Render Markdown output for the terminal",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	log := log.NewLogger("main")

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	urls := c.StringSlice("url")
	output := c.String("output")
	if output != "" && len(urls) > 1 {
		return cli.Exit("--output takes a single --url, use --output-dir for several", 2)
	}

	outputDir := c.String("output-dir")
	if outputDir == "" && output == "" {
		outputDir = cfg.Output.Dir
	}

	templates, err := prompt.Load(cfg.TemplatesDir)
	if err != nil {
		return err
	}

	completer := backend.NewBackend(config.APIKey(c.String("api-key")), cfg.Completion)

	agent, err := pipeline.NewAgent(cfg, templates, scrape.NewHTTPScraper(cfg.Fetch), completer)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reqs := make([]pipeline.Request, len(urls))
	for i, url := range urls {
		reqs[i] = pipeline.Request{
			URL:       url,
			Template:  c.String("template"),
			Format:    c.String("format"),
			Model:     c.String("model"),
			Timeout:   c.Duration("timeout"),
			MaxLength: c.Int("max-length"),
		}
	}

	results := agent.ProcessBatch(ctx, reqs, c.Int("concurrency"))

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", res.URL, res.Kind, res.Error)
			continue
		}

		if output != "" || outputDir != "" {
			path, err := pipeline.Save(res, output, outputDir)
			if err != nil {
				return err
			}

			log.Info().Str("url", res.URL).Str("path", path).Msg("Result saved")
			continue
		}

		if err := printResult(res, c.Bool("pretty")); err != nil {
			return err
		}
	}

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d URLs failed", failed, len(results)), 1)
	}

	return nil
}

func printResult(res *pipeline.Result, pretty bool) error {
	body := res.Content

	if pretty && res.Format == string(render.Markdown) && isatty.IsTerminal(os.Stdout.Fd()) {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			return errors.Wrap(err, "failed to create terminal renderer")
		}

		body, err = r.Render(res.Content)
		if err != nil {
			return errors.Wrap(err, "failed to render for terminal")
		}
	}

	_, err := fmt.Fprintln(os.Stdout, body)
	return err
}

func templatesCommand() *cli.Command {
	return &cli.Command{
		Name:  "templates",
		Usage: "List the available prompt templates",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			templates, err := prompt.Load(cfg.TemplatesDir)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTARGET LENGTH\tDESCRIPTION")
			for _, t := range templates.List() {
				length := "-"
				if n := t.MaxLength(); n > 0 {
					length = fmt.Sprint(n)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, length, t.Description)
			}

			return w.Flush()
		},
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write the built-in templates into the templates directory",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite existing files",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}

					if err := prompt.WriteDefaults(store.NewFileStore(cfg.TemplatesDir), c.Bool("force")); err != nil {
						return err
					}

					fmt.Fprintf(os.Stdout, "Templates written to %s\n", cfg.TemplatesDir)
					return nil
				},
			},
		},
	}
}

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Check that the model endpoint answers",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			if model := c.String("model"); model != "" {
				cfg.Completion.Model = model
			}

			ctx, cancel := context.WithTimeout(c.Context, cfg.Completion.Timeout*time.Duration(cfg.Completion.MaxAttempts)+time.Minute)
			defer cancel()

			res, err := backend.NewBackend(config.APIKey(c.String("api-key")), cfg.Completion).Ping(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("endpoint %s unreachable: %v", cfg.Completion.Endpoint, err), 1)
			}

			fmt.Fprintf(os.Stdout, "ok: %s answered in %s (%d attempt(s))\n", res.Model, res.Duration.Round(time.Millisecond), res.Attempts)
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "model",
				Usage: "Model name (overrides the settings file)",
			},
		},
	}
}
