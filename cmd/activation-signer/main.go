// Command activation-signer is the vendor-side toolkit: it creates the signing
// key, prints the values to embed in POS builds and signs device activations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "activation-signer",
		Usage: "Vendor tools for offline carwash POS activation",
		Commands: []*cli.Command{
			KeygenCommand(),
			EmbedCommand(),
			SignCommand(),
			VerifyCommand(),
		},
	}
}
