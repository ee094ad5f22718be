package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"carwash/internal/client"
	"carwash/internal/signer"
	"carwash/pkg/contracts/domain"
)

// MachineInfoCommand writes the machine-info file the vendor signs
func MachineInfoCommand() *cli.Command {
	return &cli.Command{
		Name:  "machine-info",
		Usage: "Export this device's activation details",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "out-dir",
				Usage: "Directory for machine-info-<timestamp>.json (overrides configuration)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}

			gen := e.generator()
			info, err := gen.Generate(ctx)
			if err != nil {
				return err
			}

			dir := e.cfg.MachineInfoDir
			if cmd.IsSet("out-dir") {
				dir = cmd.String("out-dir")
			}
			path, err := gen.WriteMachineFile(dir, info)
			if err != nil {
				return err
			}

			w := cmd.Root().Writer
			fmt.Fprintf(w, "Device ID: %s\n", info.DeviceID)
			fmt.Fprintf(w, "Machine info: %s\n", path)
			fmt.Fprintln(w, "Send this file to the vendor and activate with the .sig you receive.")
			return nil
		},
	}
}

// ActivateCommand submits a .sig file
func ActivateCommand() *cli.Command {
	return &cli.Command{
		Name:  "activate",
		Usage: "Activate this device with a vendor .sig file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "signature",
				Usage:    "Signature file from the vendor",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "machine-file",
				Usage: "machine-info file the signature was made for (default: describe this device now)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}

			raw, _, err := client.LoadSignatureFile(cmd.String("signature"))
			if err != nil {
				return err
			}

			var info domain.DeviceInfo
			if path := cmd.String("machine-file"); path != "" {
				info, err = signer.ReadMachineFile(path)
			} else {
				info, err = e.generator().Generate(ctx)
			}
			if err != nil {
				return err
			}

			resp, err := e.activator.Activate(ctx, info, raw)
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Blocked() {
				return fmt.Errorf("too many failed attempts, try again in %s", apiErr.RetryAfter.Round(time.Second))
			}
			if err != nil {
				return err
			}
			if !resp.Success {
				return &client.RejectedError{Message: resp.Message}
			}

			fmt.Fprintf(cmd.Root().Writer, "%s (%s license, device %s)\n", resp.Message, resp.LicenseType, info.DeviceID)
			return nil
		},
	}
}

// StatusCommand reports the local activation state
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show whether this installation is activated",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			if e.activator.IsActivated() {
				fmt.Fprintln(cmd.Root().Writer, "activated")
				return nil
			}
			fmt.Fprintln(cmd.Root().Writer, "not activated")
			return nil
		},
	}
}

// VerifyCommand checks the stored token with the server
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check the stored activation token with the server",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}

			resp, err := e.activator.VerifyStored(ctx)
			if err != nil {
				return err
			}
			if !resp.Valid || resp.Data == nil {
				return &client.RejectedError{Message: resp.Message}
			}

			d := resp.Data
			fmt.Fprintf(cmd.Root().Writer, "token valid: device=%s app=%s expires=%s\n", d.DeviceID, d.AppID, d.ExpiresAt)
			return nil
		},
	}
}

// DeactivateCommand clears the local activation
func DeactivateCommand() *cli.Command {
	return &cli.Command{
		Name:  "deactivate",
		Usage: "Remove the local activation",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := e.activator.Deactivate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.Root().Writer, "local activation removed")
			return nil
		},
	}
}

// HistoryCommand prints audited activation attempts for a device
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List activation attempts recorded by the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "device-id",
				Usage:    "Device to list",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of records",
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Administrative API key",
				Sources: cli.EnvVars("CARWASH_SECURITY_ADMIN_API_KEY"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd, client.WithAPIKey(cmd.String("api-key")))
			if err != nil {
				return err
			}

			records, err := e.client.History(ctx, cmd.String("device-id"), int(cmd.Int("limit")))
			if err != nil {
				return err
			}

			w := cmd.Root().Writer
			if len(records) == 0 {
				fmt.Fprintln(w, "no activation attempts recorded")
				return nil
			}
			for _, r := range records {
				outcome := "FAILED"
				if r.Success {
					outcome = "OK"
				}
				fmt.Fprintf(w, "%s  %-6s  %-18s  %s\n", r.CreatedAt.UTC().Format(time.RFC3339), outcome, r.Reason, r.Message)
			}
			return nil
		},
	}
}
