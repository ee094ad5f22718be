// Command activation-client runs the POS side of offline activation: it exports
// the machine info for the vendor, submits the returned .sig file and manages the
// locally stored activation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"carwash/internal/client"
	"carwash/internal/config"
	"carwash/internal/device"
	"carwash/internal/gate"
)

// Version is set at build time with -ldflags
var Version = "dev"

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "activation-client",
		Usage:   "Carwash POS activation client",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML configuration file",
				Sources: cli.EnvVars(config.EnvPrefix + "_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "server-url",
				Usage: "Activation server base URL (overrides configuration)",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Local activation store file (overrides configuration)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log requests to stderr",
			},
		},
		Commands: []*cli.Command{
			MachineInfoCommand(),
			ActivateCommand(),
			StatusCommand(),
			VerifyCommand(),
			DeactivateCommand(),
			HistoryCommand(),
		},
	}
}

// env bundles what every subcommand needs
type env struct {
	cfg       *config.ClientConfig
	logger    *slog.Logger
	gate      *gate.ActivationGate
	client    *client.Client
	activator *client.Activator
}

func setup(cmd *cli.Command, opts ...client.Option) (*env, error) {
	root := cmd.Root()
	if path := root.String("config"); path != "" {
		if err := os.Setenv(config.EnvPrefix+"_CONFIG_FILE", path); err != nil {
			return nil, err
		}
	}

	full, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg := full.Client
	if root.IsSet("server-url") {
		cfg.ServerURL = root.String("server-url")
	}
	if root.IsSet("store") {
		cfg.StorePath = root.String("store")
	}

	level := slog.LevelWarn
	if root.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(root.ErrWriter, &slog.HandlerOptions{Level: level}))

	api, err := client.New(cfg.ServerURL, cfg.Timeout, append([]client.Option{client.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	g := gate.New(gate.NewFileStore(cfg.StorePath), logger)

	return &env{
		cfg:       &cfg,
		logger:    logger,
		gate:      g,
		client:    api,
		activator: client.NewActivator(api, g, logger),
	}, nil
}

func (e *env) generator() *device.Generator {
	source := device.NewHostSignalSource(Version, e.cfg.ScreenWidth, e.cfg.ScreenHeight, e.logger)
	return device.NewGenerator(source, device.Config{
		UseFixedID: e.cfg.UseFixedDeviceID,
		FixedID:    e.cfg.FixedDeviceID,
	}, device.WithLogger(e.logger))
}
