package serve

import (
	"os"

	"github.com/andrebq/turnstile/config"
	"github.com/andrebq/turnstile/gateway"
	"github.com/andrebq/turnstile/internal/bootstrap"
	"github.com/andrebq/turnstile/internal/cmdflags"
	"github.com/andrebq/turnstile/internal/httpserver"
	"github.com/andrebq/turnstile/internal/logutil"
	"github.com/andrebq/turnstile/internal/metrics"
	"github.com/andrebq/turnstile/transport"
	"github.com/andrebq/turnstile/views"
	"github.com/urfave/cli/v2"
)

func Cmd(cfg *config.Config) *cli.Command {
	def := config.Default()
	return &cli.Command{
		Name:  "serve",
		Usage: "Start one of the turnstile http servers",
		Subcommands: []*cli.Command{
			serverCmd(cfg, "auth", "Sign up, log in and log out with a session cookie",
				def.Auth, func(c *config.Config) *config.Server { return &c.Auth }),
			serverCmd(cfg, "visits", "Count page views of anonymous visitors",
				def.Visits, func(c *config.Config) *config.Server { return &c.Visits }),
		},
	}
}

func serverCmd(cfg *config.Config, name, usage string, def config.Server, pick func(*config.Config) *config.Server) *cli.Command {
	var flags cmdflags.Server
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: flags.Flags(def),
		Action: func(ctx *cli.Context) error {
			srv := pick(cfg)
			flags.Apply(ctx, srv)
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := logutil.GetOrDefault(ctx.Context).With().Str("server", name).Logger()
			appCtx := logutil.WithLogger(ctx.Context, log)

			key, err := transport.KeyFromEnv(cfg.RootKeyEnvVar, os.Getenv, os.Setenv)
			if err != nil {
				return err
			}
			defer key.Zero()

			rt, err := bootstrap.Open(appCtx, *cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			sessions, err := rt.Sessions(appCtx, *srv)
			if err != nil {
				return err
			}
			v, err := views.FromDir(cfg.ViewsDir)
			if err != nil {
				return err
			}
			m := metrics.New(name)
			opts := gateway.Options{
				Views:   v,
				Metrics: m,
			}
			if name == "visits" {
				opts.AutoCreate = true
			} else {
				opts.Registry = rt.Registry
			}
			realm, err := gateway.NewRealm(sessions, transport.NewCookies(key, srv.CookieOptions()), opts)
			if err != nil {
				return err
			}
			if srv.InsecureCookie {
				log.Warn().Msg("Session cookie will be sent over plain http")
			}
			go sessions.RunJanitor(appCtx, cfg.Session.PurgeInterval, func(n int64) {
				m.SessionsPurged.Add(float64(n))
			})

			handler := realm.AuthHandler()
			if opts.AutoCreate {
				handler = realm.VisitsHandler()
			}
			log.Info().Str("bind", srv.Bind).
				Str("sessionBackend", cfg.Session.Backend).
				Dur("sessionTTL", srv.SessionTTL).
				Msg("Starting server")
			return httpserver.Serve(appCtx, srv.Bind, handler)
		},
	}
}
