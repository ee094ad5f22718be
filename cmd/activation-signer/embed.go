package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"carwash/internal/signer"
)

// EmbedCommand prints the key blob and checksum for a public key file
func EmbedCommand() *cli.Command {
	return &cli.Command{
		Name:  "embed",
		Usage: "Print the values that make a build trust a public key",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "public-key",
				Usage: "Public key PEM file",
				Value: "keys/" + publicKeyFile,
			},
		},
		Action: runEmbed,
	}
}

func runEmbed(ctx context.Context, cmd *cli.Command) error {
	// LoadPublicKey parses the file so a broken PEM is never embedded
	_, pemData, err := signer.LoadPublicKey(cmd.String("public-key"))
	if err != nil {
		return err
	}
	blob, checksum := signer.EncodePublicKey(pemData)
	printEmbedValues(cmd.Root().Writer, blob, checksum)
	return nil
}

func printEmbedValues(w io.Writer, blob, checksum string) {
	fmt.Fprintln(w, "# internal/activation/embedded_key.go")
	fmt.Fprintf(w, "embeddedPublicKey = %q\n", blob)
	fmt.Fprintf(w, "embeddedPublicKeyChecksum = %q\n\n", checksum)
	fmt.Fprintln(w, "# or at runtime")
	fmt.Fprintf(w, "CARWASH_ACTIVATION_PUBLIC_KEY_BLOB=%s\n", blob)
	fmt.Fprintf(w, "CARWASH_ACTIVATION_PUBLIC_KEY_CHECKSUM=%s\n", checksum)
}
