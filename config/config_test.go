package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrebq/turnstile/credentials"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	p := filepath.Join(t.TempDir(), "turnstile.yaml")
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "localhost:3000", cfg.Auth.Bind)
	require.Equal(t, "localhost:3001", cfg.Visits.Bind)
	require.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	require.False(t, cfg.Auth.InsecureCookie)

	h, err := cfg.Hasher()
	require.NoError(t, err)
	require.Equal(t, credentials.Bcrypt{Cost: credentials.DefaultBcryptCost}, h)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	p := writeConfig(t, `
log:
  level: debug
  pretty: true
store:
  dsn: postgres://turnstile@localhost/turnstile
  timeout: 2s
session:
  backend: redis
  redis_url: redis://localhost:6379/0
auth:
  bind: 0.0.0.0:8080
  session_ttl: 1h
  session_renew: true
  insecure_cookie: true
password:
  scheme: argon2id
  argon2id:
    time: 2
    memory_kib: 32768
    threads: 1
`)
	cfg, err := LoadFile(p)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.True(t, cfg.Log.Pretty)
	require.Equal(t, 2*time.Second, cfg.Store.Timeout)
	require.Equal(t, BackendRedis, cfg.Session.Backend)
	require.Equal(t, "0.0.0.0:8080", cfg.Auth.Bind)
	require.Equal(t, time.Hour, cfg.Auth.Policy().TTL)
	require.True(t, cfg.Auth.Policy().Renew)
	require.True(t, cfg.Auth.CookieOptions().Insecure)
	// untouched sections keep their defaults
	require.Equal(t, "localhost:3001", cfg.Visits.Bind)
	require.Equal(t, Default().Session.PurgeInterval, cfg.Session.PurgeInterval)

	h, err := cfg.Hasher()
	require.NoError(t, err)
	argon, ok := h.(credentials.Argon2id)
	require.True(t, ok)
	require.Equal(t, uint32(32768), argon.MemoryKiB)
	require.Equal(t, uint32(16), argon.SaltLen)
}

func TestLoadFileRejectsBadInput(t *testing.T) {
	for name, content := range map[string]string{
		"unknown field":   "auth:\n  bnd: localhost:1\n",
		"bad duration":    "store:\n  timeout: soon\n",
		"unknown backend": "session:\n  backend: etcd\n",
		"redis no url":    "session:\n  backend: redis\n",
		"same cookies":    "visits:\n  cookie_name: turnstile.sid\n",
		"bad scheme":      "password:\n  scheme: md5\n",
		"bad cost":        "password:\n  bcrypt_cost: 99\n",
		"zero ttl":        "visits:\n  session_ttl: 0s\n",
	} {
		_, err := LoadFile(writeConfig(t, content))
		require.Error(t, err, name)
	}
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEmptyFileIsDefault(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
