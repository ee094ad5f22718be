package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"carwash/internal/signer"
)

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
)

// KeygenCommand creates the vendor key pair
func KeygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a new RSA signing key pair",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "out-dir",
				Usage: "Directory for private.pem and public.pem",
				Value: "keys",
			},
			&cli.IntFlag{
				Name:  "bits",
				Usage: "RSA key size",
				Value: signer.DefaultKeyBits,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing key pair",
			},
		},
		Action: runKeygen,
	}
}

func runKeygen(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.String("out-dir")
	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	if !cmd.Bool("force") {
		if _, err := os.Stat(privPath); err == nil {
			return fmt.Errorf("%s already exists, use --force to replace it", privPath)
		}
	}

	pair, err := signer.GenerateKeyPair(int(cmd.Int("bits")))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(privPath, pair.PrivatePEM, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pair.PublicPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	blob, checksum := signer.EncodePublicKey(pair.PublicPEM)
	w := cmd.Root().Writer
	fmt.Fprintf(w, "Private key: %s (keep offline)\n", privPath)
	fmt.Fprintf(w, "Public key:  %s\n\n", pubPath)
	printEmbedValues(w, blob, checksum)
	return nil
}
