package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fieldcache/fieldcache/internal/adapter"
	"github.com/fieldcache/fieldcache/internal/config"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

func main() {
	app := cli.App{
		Name:  "fieldprobe",
		Usage: "inspect a multiresolution data set through the variable access engine",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
			},
			&cli.StringFlag{
				Name:  "source",
				Value: "synthetic://",
				Usage: "data source URI",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override global.log_level",
			},
			&cli.IntFlag{
				Name:  "metrics-port",
				Usage: "serve Prometheus metrics on this port",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "keep serving metrics after the command until interrupted",
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "print engine statistics after the command",
			},
		},

		Commands: []*cli.Command{
			varsCmd,
			extentsCmd,
			sampleCmd,
			rangeCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fieldprobe:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Configuration, error) {
	cfg := config.NewDefault()
	cfg.Global.LogLevel = "WARN"
	cfg.Global.LogFormat = "console"
	if path := c.String("config"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Global.LogLevel = lvl
	}
	if port := c.Int("metrics-port"); port > 0 {
		cfg.Monitoring.Metrics.Enabled = true
		cfg.Monitoring.Metrics.Port = port
	}
	return cfg, cfg.Validate()
}

// withAdapter runs fn against a started adapter and tears it down after.
func withAdapter(c *cli.Context, fn func(ctx context.Context, a *adapter.Adapter) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := adapter.New(ctx, c.String("source"), cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := a.Stop(context.Background()); err != nil {
			a.Logger().Warn("stop failed", zap.Error(err))
		}
	}()

	if err := fn(ctx, a); err != nil {
		return err
	}

	if c.Bool("stats") {
		st := a.Engine().Stats()
		if err := printJSON(st); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "pool: %s of %s in use\n",
			utils.FormatBytes(st.Pool.InUse*8), utils.FormatBytes(st.Pool.Capacity*8))
	}
	if c.Bool("wait") && cfg.Monitoring.Metrics.Enabled {
		fmt.Fprintf(os.Stderr, "serving metrics on %s%s, interrupt to exit\n",
			a.Metrics().Addr(), cfg.Monitoring.Metrics.Path)
		<-ctx.Done()
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
