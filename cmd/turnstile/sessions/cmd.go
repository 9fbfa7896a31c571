package sessions

import (
	"errors"
	"fmt"

	"github.com/andrebq/turnstile/config"
	"github.com/andrebq/turnstile/internal/bootstrap"
	"github.com/urfave/cli/v2"
)

func Cmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Maintenance of the session store",
		Subcommands: []*cli.Command{
			purgeCmd(cfg),
		},
	}
}

func purgeCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Remove expired sessions",
		Action: func(ctx *cli.Context) error {
			if cfg.Session.Backend == config.BackendMemory {
				return errors.New("memory sessions live inside the server process, nothing to purge")
			}
			rt, err := bootstrap.Open(ctx.Context, *cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			mgr, err := rt.Sessions(ctx.Context, cfg.Auth)
			if err != nil {
				return err
			}
			n, err := mgr.Purge(ctx.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.App.Writer, "%v expired sessions removed\n", n)
			return nil
		},
	}
}
