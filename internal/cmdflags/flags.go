// Package cmdflags holds the flags shared by the turnstile commands.
//
// Flags are layered on top of the config file: a flag only replaces the
// file value when it was given on the command line.
package cmdflags

import (
	"fmt"
	"time"

	"github.com/andrebq/turnstile/config"
	"github.com/andrebq/turnstile/internal/logutil"
	"github.com/andrebq/turnstile/transport"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

type (
	Globals struct {
		ConfigFile     string
		LogLevel       string
		LogPretty      bool
		StoreDSN       string
		SessionBackend string
		RedisURL       string
		ViewsDir       string
		RootKeyEnvVar  string
	}

	Server struct {
		Bind           string
		CookieName     string
		InsecureCookie bool
		SessionTTL     time.Duration
		SessionRenew   bool
	}
)

func RootKeyEnvVar(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = transport.RootKeyEnvVar
	}
	return &cli.StringFlag{
		Name:        "root-key-envvar-name",
		Usage:       "Name of the environment variable that holds the cookie signing key. The key itself should not be passed as an argument",
		EnvVars:     []string{"TURNSTILE_ROOT_KEY_ENVVAR_NAME"},
		Value:       *out,
		Destination: out,
	}
}

func Store(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "store",
		Aliases:     []string{"s"},
		Usage:       "Store DSN, sqlite://<path> or postgres://...",
		EnvVars:     []string{"TURNSTILE_STORE"},
		Value:       *out,
		Destination: out,
	}
}

func (g *Globals) Flags() []cli.Flag {
	def := config.Default()
	g.LogLevel = def.Log.Level
	g.StoreDSN = def.Store.DSN
	g.SessionBackend = def.Session.Backend
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to a YAML config file",
			EnvVars:     []string{"TURNSTILE_CONFIG"},
			Destination: &g.ConfigFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Minimum log level (trace, debug, info, warn, error)",
			Value:       g.LogLevel,
			Destination: &g.LogLevel,
		},
		&cli.BoolFlag{
			Name:        "log-pretty",
			Usage:       "Human friendly logs instead of JSON",
			Destination: &g.LogPretty,
		},
		Store(&g.StoreDSN),
		&cli.StringFlag{
			Name:        "session-backend",
			Usage:       fmt.Sprintf("Where sessions are kept (%v, %v or %v)", config.BackendSQL, config.BackendMemory, config.BackendRedis),
			Value:       g.SessionBackend,
			Destination: &g.SessionBackend,
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Usage:       "Redis address for the redis session backend (redis://host:port/db or host:port)",
			EnvVars:     []string{"TURNSTILE_REDIS_URL"},
			Destination: &g.RedisURL,
		},
		&cli.StringFlag{
			Name:        "views-dir",
			Usage:       "Directory with lua views overriding the built-in ones",
			Destination: &g.ViewsDir,
		},
		RootKeyEnvVar(&g.RootKeyEnvVar),
	}
}

// Load reads the config file into cfg, applies the flags given on the
// command line and installs the process logger in ctx.
func (g *Globals) Load(ctx *cli.Context, cfg *config.Config) error {
	if g.ConfigFile != "" {
		loaded, err := config.LoadFile(g.ConfigFile)
		if err != nil {
			return err
		}
		*cfg = loaded
	}
	setString(ctx, "log-level", &cfg.Log.Level, g.LogLevel)
	setBool(ctx, "log-pretty", &cfg.Log.Pretty, g.LogPretty)
	setString(ctx, "store", &cfg.Store.DSN, g.StoreDSN)
	setString(ctx, "session-backend", &cfg.Session.Backend, g.SessionBackend)
	setString(ctx, "redis-url", &cfg.Session.RedisURL, g.RedisURL)
	setString(ctx, "views-dir", &cfg.ViewsDir, g.ViewsDir)
	setString(ctx, "root-key-envvar-name", &cfg.RootKeyEnvVar, g.RootKeyEnvVar)

	logger, err := logutil.New(cfg.Log.Level, cfg.Log.Pretty, ctx.App.ErrWriter)
	if err != nil {
		return err
	}
	log.Logger = logger
	ctx.Context = logutil.WithLogger(ctx.Context, logger)
	return nil
}

// Flags returns the flags of one http server, showing def as defaults.
func (s *Server) Flags(def config.Server) []cli.Flag {
	*s = Server{
		Bind:       def.Bind,
		CookieName: def.CookieName,
		SessionTTL: def.SessionTTL,
	}
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bind",
			Usage:       "Address to bind the server",
			Value:       s.Bind,
			Destination: &s.Bind,
		},
		&cli.StringFlag{
			Name:        "cookie-name",
			Usage:       "Name of the session cookie",
			Value:       s.CookieName,
			Destination: &s.CookieName,
		},
		&cli.BoolFlag{
			Name:        "insecure-cookie",
			Usage:       "Send the session cookie over plain http (development only)",
			Destination: &s.InsecureCookie,
		},
		&cli.DurationFlag{
			Name:        "session-ttl",
			Usage:       "How long a session lives",
			Value:       s.SessionTTL,
			Destination: &s.SessionTTL,
		},
		&cli.BoolFlag{
			Name:        "session-renew",
			Usage:       "Extend the session lifetime on every change",
			Destination: &s.SessionRenew,
		},
	}
}

func (s *Server) Apply(ctx *cli.Context, srv *config.Server) {
	setString(ctx, "bind", &srv.Bind, s.Bind)
	setString(ctx, "cookie-name", &srv.CookieName, s.CookieName)
	setBool(ctx, "insecure-cookie", &srv.InsecureCookie, s.InsecureCookie)
	if ctx.IsSet("session-ttl") {
		srv.SessionTTL = s.SessionTTL
	}
	setBool(ctx, "session-renew", &srv.SessionRenew, s.SessionRenew)
}

func setString(ctx *cli.Context, name string, dst *string, val string) {
	if ctx.IsSet(name) {
		*dst = val
	}
}

func setBool(ctx *cli.Context, name string, dst *bool, val bool) {
	if ctx.IsSet(name) {
		*dst = val
	}
}
