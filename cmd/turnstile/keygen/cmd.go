package keygen

import (
	"fmt"

	"github.com/andrebq/turnstile/transport"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: fmt.Sprintf("Print a new cookie signing key, to be exported as %v", transport.RootKeyEnvVar),
		Action: func(ctx *cli.Context) error {
			k, err := transport.GenerateKey()
			if err != nil {
				return err
			}
			defer k.Zero()
			fmt.Fprintln(ctx.App.Writer, k.String())
			return nil
		},
	}
}
