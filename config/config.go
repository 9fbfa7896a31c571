// Package config holds every tunable of the turnstile servers.
//
// Values come from Default, then from an optional YAML file (LoadFile),
// then from command line flags. Secrets are never part of the file: the
// cookie signing key is read from the environment variable named by
// RootKeyEnvVar.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andrebq/turnstile/credentials"
	"github.com/andrebq/turnstile/session"
	"github.com/andrebq/turnstile/store"
	"github.com/andrebq/turnstile/transport"
	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		Log           Log      `yaml:"log"`
		Store         Store    `yaml:"store"`
		Session       Session  `yaml:"session"`
		Password      Password `yaml:"password"`
		Auth          Server   `yaml:"auth"`
		Visits        Server   `yaml:"visits"`
		ViewsDir      string   `yaml:"views_dir"`
		RootKeyEnvVar string   `yaml:"root_key_envvar_name"`
	}

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	}

	Store struct {
		DSN          string        `yaml:"dsn"`
		Timeout      time.Duration `yaml:"timeout"`
		MaxOpenConns int           `yaml:"max_open_conns"`
	}

	Session struct {
		// Backend is one of sql, memory or redis.
		Backend       string        `yaml:"backend"`
		RedisURL      string        `yaml:"redis_url"`
		RedisPrefix   string        `yaml:"redis_prefix"`
		PurgeInterval time.Duration `yaml:"purge_interval"`
	}

	Password struct {
		Scheme     string   `yaml:"scheme"`
		BcryptCost int      `yaml:"bcrypt_cost"`
		Argon2id   Argon2id `yaml:"argon2id"`
	}

	Argon2id struct {
		Time      uint32 `yaml:"time"`
		MemoryKiB uint32 `yaml:"memory_kib"`
		Threads   uint8  `yaml:"threads"`
	}

	// Server configures one of the two http servers.
	Server struct {
		Bind           string        `yaml:"bind"`
		CookieName     string        `yaml:"cookie_name"`
		InsecureCookie bool          `yaml:"insecure_cookie"`
		SessionTTL     time.Duration `yaml:"session_ttl"`
		SessionRenew   bool          `yaml:"session_renew"`
	}
)

const (
	BackendSQL    = "sql"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

func Default() Config {
	argon := credentials.DefaultArgon2id()
	return Config{
		Log: Log{Level: "info"},
		Store: Store{
			DSN:     "sqlite://turnstile.db",
			Timeout: store.DefaultTimeout,
		},
		Session: Session{
			Backend:       BackendSQL,
			RedisPrefix:   session.DefaultRedisPrefix,
			PurgeInterval: 15 * time.Minute,
		},
		Password: Password{
			Scheme:     credentials.SchemeBcrypt,
			BcryptCost: credentials.DefaultBcryptCost,
			Argon2id: Argon2id{
				Time:      argon.Time,
				MemoryKiB: argon.MemoryKiB,
				Threads:   argon.Threads,
			},
		},
		Auth: Server{
			Bind:       "localhost:3000",
			CookieName: transport.DefaultCookieName,
			SessionTTL: session.DefaultTTL,
		},
		Visits: Server{
			Bind:       "localhost:3001",
			CookieName: "turnstile.visits",
			SessionTTL: session.DefaultTTL,
		},
		RootKeyEnvVar: transport.RootKeyEnvVar,
	}
}

// LoadFile reads path on top of Default. Unknown fields are an error.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config file %v, cause %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	err = dec.Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("unable to parse config file %v, cause %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Session.Backend {
	case BackendSQL, BackendMemory:
	case BackendRedis:
		if c.Session.RedisURL == "" {
			return errors.New("config: session.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Session.Backend)
	}
	for name, s := range map[string]Server{"auth": c.Auth, "visits": c.Visits} {
		if s.Bind == "" {
			return fmt.Errorf("config: %v.bind cannot be empty", name)
		}
		if s.SessionTTL <= 0 {
			return fmt.Errorf("config: %v.session_ttl must be positive", name)
		}
	}
	if c.Auth.CookieName == c.Visits.CookieName {
		return errors.New("config: auth and visits servers must use different cookie names")
	}
	if c.Store.DSN == "" {
		return errors.New("config: store.dsn cannot be empty")
	}
	if c.Store.Timeout <= 0 {
		return errors.New("config: store.timeout must be positive")
	}
	if c.Session.PurgeInterval <= 0 {
		return errors.New("config: session.purge_interval must be positive")
	}
	if c.RootKeyEnvVar == "" {
		return errors.New("config: root_key_envvar_name cannot be empty")
	}
	_, err := c.Hasher()
	return err
}

// Hasher returns the password hasher for new registrations.
func (c Config) Hasher() (credentials.Hasher, error) {
	argon := credentials.DefaultArgon2id()
	argon.Time = c.Password.Argon2id.Time
	argon.MemoryKiB = c.Password.Argon2id.MemoryKiB
	argon.Threads = c.Password.Argon2id.Threads
	return credentials.HasherFor(c.Password.Scheme, c.Password.BcryptCost, argon)
}

func (c Config) StoreOptions() store.Options {
	return store.Options{Timeout: c.Store.Timeout, MaxOpenConns: c.Store.MaxOpenConns}
}

func (s Server) Policy() session.Policy {
	return session.Policy{TTL: s.SessionTTL, Renew: s.SessionRenew}
}

func (s Server) CookieOptions() transport.Options {
	return transport.Options{Name: s.CookieName, Insecure: s.InsecureCookie}
}
