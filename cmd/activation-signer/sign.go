package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"carwash/internal/signer"
	"carwash/pkg/contracts/domain"
)

var licenseTypes = []string{
	domain.LicenseTypeStandard,
	domain.LicenseTypePremium,
	domain.LicenseTypeEnterprise,
}

// SignCommand signs an activation for one device
func SignCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign",
		Usage: "Create a .sig activation file for a device",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "private-key",
				Usage: "Private key PEM file",
				Value: "keys/" + privateKeyFile,
			},
			&cli.StringFlag{
				Name:  "device-id",
				Usage: "Device ID shown on the POS activation screen",
			},
			&cli.StringFlag{
				Name:  "machine-file",
				Usage: "machine-info JSON exported by the POS, used instead of --device-id",
			},
			&cli.StringFlag{
				Name:  "app-id",
				Usage: "Application ID",
				Value: domain.AppID,
			},
			&cli.StringFlag{
				Name:  "license-type",
				Usage: "One of " + strings.Join(licenseTypes, ", "),
				Value: domain.LicenseTypeStandard,
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Output file (default <device-id>.sig)",
			},
			&cli.StringFlag{
				Name:  "curl",
				Usage: "Also print a curl command against this server URL",
			},
		},
		Action: runSign,
	}
}

func runSign(ctx context.Context, cmd *cli.Command) error {
	licenseType := strings.ToUpper(cmd.String("license-type"))
	if !validLicenseType(licenseType) {
		return fmt.Errorf("unknown license type %q", licenseType)
	}

	var info *domain.DeviceInfo
	deviceID := cmd.String("device-id")
	appID := cmd.String("app-id")
	if path := cmd.String("machine-file"); path != "" {
		mi, err := signer.ReadMachineFile(path)
		if err != nil {
			return err
		}
		info = &mi
		deviceID = mi.DeviceID
		if mi.AppID != "" {
			appID = mi.AppID
		}
	}
	if deviceID == "" {
		return errors.New("--device-id or --machine-file is required")
	}

	priv, err := signer.LoadPrivateKey(cmd.String("private-key"))
	if err != nil {
		return err
	}

	env, err := signer.Sign(priv, signer.Claims{
		DeviceID:    deviceID,
		AppID:       appID,
		Timestamp:   time.Now().UnixMilli(),
		LicenseType: licenseType,
	})
	if err != nil {
		return err
	}

	out := cmd.String("out")
	if out == "" {
		out = deviceID + ".sig"
	}
	if err := signer.WriteEnvelope(out, env); err != nil {
		return err
	}

	w := cmd.Root().Writer
	fmt.Fprintf(w, "Signed %s license for %s: %s\n", licenseType, deviceID, out)

	if serverURL := cmd.String("curl"); serverURL != "" {
		if info == nil {
			return errors.New("--curl needs --machine-file for the device details")
		}
		curl, err := signer.CurlCommand(serverURL, *info, env)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%s\n", curl)
	}
	return nil
}

func validLicenseType(lt string) bool {
	for _, t := range licenseTypes {
		if t == lt {
			return true
		}
	}
	return false
}
