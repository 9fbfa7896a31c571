package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrebq/turnstile/cmd/turnstile/keygen"
	"github.com/andrebq/turnstile/cmd/turnstile/serve"
	"github.com/andrebq/turnstile/cmd/turnstile/sessions"
	"github.com/andrebq/turnstile/cmd/turnstile/users"
	"github.com/andrebq/turnstile/config"
	"github.com/andrebq/turnstile/internal/cmdflags"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	cfg := config.Default()
	var globals cmdflags.Globals
	app := &cli.App{
		Name:  "turnstile",
		Usage: "Username and password login backed by signed session cookies",
		Flags: globals.Flags(),
		Before: func(ctx *cli.Context) error {
			return globals.Load(ctx, &cfg)
		},
		Commands: []*cli.Command{
			serve.Cmd(&cfg),
			users.Cmd(&cfg),
			sessions.Cmd(&cfg),
			keygen.Cmd(),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Error().Err(err).Msg("Application failed")
		os.Exit(1)
	}
}
