// Command activation-server serves the carwash POS activation API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"carwash/internal/app"
	"carwash/internal/config"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "activation-server",
		Usage:   "Carwash POS activation server",
		Version: app.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML configuration file",
				Sources: cli.EnvVars(config.EnvPrefix + "_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (overrides configuration)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (overrides configuration)",
			},
		},
		Action: runServer,
		Commands: []*cli.Command{
			{
				Name:   "check-config",
				Usage:  "Load and validate the configuration, then exit",
				Action: runCheckConfig,
			},
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if path := cmd.String("config"); path != "" {
		if err := os.Setenv(config.EnvPrefix+"_CONFIG_FILE", path); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}
	return cfg, cfg.Validate()
}

func runServer(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run(ctx)
}

func runCheckConfig(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.Root())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "configuration ok: listen %s, token format %s, audit %t\n",
		cfg.Server.Address(), cfg.Activation.TokenFormat, cfg.Storage.AuditEnabled)
	return nil
}
