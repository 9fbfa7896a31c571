package users

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andrebq/turnstile/config"
	"github.com/andrebq/turnstile/credentials"
	"github.com/andrebq/turnstile/internal/bootstrap"
	"github.com/urfave/cli/v2"
)

func Cmd(cfg *config.Config) *cli.Command {
	var rt *bootstrap.Runtime
	return &cli.Command{
		Name:  "users",
		Usage: "Manage the credential store",
		Before: func(ctx *cli.Context) error {
			var err error
			rt, err = bootstrap.Open(ctx.Context, *cfg)
			return err
		},
		After: func(ctx *cli.Context) error {
			if rt == nil {
				return nil
			}
			return rt.Close()
		},
		Subcommands: []*cli.Command{
			registerCmd(&rt),
			verifyCmd(&rt),
		},
	}
}

func usernameFlag(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "username",
		Aliases:     []string{"u", "user"},
		Usage:       "Name of the user",
		Destination: out,
		Required:    true,
	}
}

func registerCmd(rt **bootstrap.Runtime) *cli.Command {
	var username string
	return &cli.Command{
		Name:  "register",
		Usage: "Register a new user (password is read from stdin)",
		Flags: []cli.Flag{usernameFlag(&username)},
		Action: func(ctx *cli.Context) error {
			passwd, err := readPassword(ctx.App.Reader)
			if err != nil {
				return err
			}
			defer passwd.Zero()
			ident, err := (*rt).Registry.Register(ctx.Context, username, passwd)
			if err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, ident.ID)
			return nil
		},
	}
}

func verifyCmd(rt **bootstrap.Runtime) *cli.Command {
	var username string
	return &cli.Command{
		Name:  "verify",
		Usage: "Check a username and password (password is read from stdin)",
		Flags: []cli.Flag{usernameFlag(&username)},
		Action: func(ctx *cli.Context) error {
			passwd, err := readPassword(ctx.App.Reader)
			if err != nil {
				return err
			}
			defer passwd.Zero()
			ident, err := (*rt).Registry.Verify(ctx.Context, username, passwd)
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.App.Writer, "%v %v\n", ident.ID, ident.Username)
			return nil
		},
	}
}

func readPassword(in io.Reader) (credentials.PlainText, error) {
	if in == nil {
		in = os.Stdin
	}
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		if sc.Err() != nil {
			return nil, sc.Err()
		}
		return nil, errors.New("missing password from stdin")
	}
	password := strings.TrimRight(sc.Text(), "\r")
	if len(password) == 0 {
		return nil, errors.New("missing password from stdin")
	}
	return credentials.PlainText(password), nil
}
