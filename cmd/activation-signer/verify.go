package main

import (
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/urfave/cli/v3"

	"carwash/internal/activation"
	"carwash/internal/signer"
)

// VerifyCommand checks a .sig file offline
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check a .sig file against a public key",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "signature",
				Usage:    "Signature file to check",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "public-key",
				Usage: "Public key PEM file (default: the key embedded in this build)",
			},
			&cli.StringFlag{
				Name:  "device-id",
				Usage: "Also require the signature to be for this device",
			},
		},
		Action: runVerify,
	}
}

func runVerify(ctx context.Context, cmd *cli.Command) error {
	env, err := signer.ReadEnvelope(cmd.String("signature"))
	if err != nil {
		return err
	}

	var pub *rsa.PublicKey
	if path := cmd.String("public-key"); path != "" {
		if pub, _, err = signer.LoadPublicKey(path); err != nil {
			return err
		}
	} else {
		if pub, err = activation.NewEmbeddedKeyStore().GetPublicKey(ctx); err != nil {
			return err
		}
	}

	if err := signer.VerifyEnvelope(pub, env); err != nil {
		return err
	}
	if want := cmd.String("device-id"); want != "" && want != env.DeviceID {
		return fmt.Errorf("signature is for device %s, not %s", env.DeviceID, want)
	}

	fmt.Fprintf(cmd.Root().Writer, "Signature valid: device=%s app=%s license=%s\n", env.DeviceID, env.AppID, env.License())
	return nil
}
