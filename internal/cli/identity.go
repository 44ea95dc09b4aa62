package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func identityCommand() *cli.Command {
	return &cli.Command{
		Name:  "identity",
		Usage: "Show the local callsign and signing key",
		Description: `Prints the callsign and the public key peers must register
   to accept this device's requests. The key is generated on first use.`,
		Action: withEnv(func(_ context.Context, _ *cli.Command, e *env) error {
			callsign := e.cfg.Identity.Callsign
			if callsign == "" {
				callsign = "(not set)"
			}
			fmt.Printf("callsign:   %s\n", callsign)
			fmt.Printf("public key: %s\n", e.signer.PublicKey())
			fmt.Printf("key file:   %s\n", e.cfg.Identity.KeyFile)
			return nil
		}),
	}
}
