package transport

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

type (
	Key [32]byte
)

const (
	RootKeyEnvVar = "TURNSTILE_ROOT_KEY"
)

// Zero wipes the key material.
func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

func (k *Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// KeyFromEnv reads a base64 (std encoding) 32 byte key from varname and
// clears the variable so child processes never see it.
// getfn and setfn default to os.Getenv and os.Setenv.
func KeyFromEnv(varname string, getfn func(string) string, setfn func(string, string) error) (*Key, error) {
	if getfn == nil {
		getfn = os.Getenv
	}
	if setfn == nil {
		setfn = os.Setenv
	}
	if varname == "" {
		varname = RootKeyEnvVar
	}
	val := getfn(varname)
	if err := setfn(varname, ""); err != nil {
		return nil, fmt.Errorf("transport: unable to clear %v, cause %w", varname, err)
	}
	if val == "" {
		return nil, fmt.Errorf("transport: %v is empty, use the keygen command to create a key", varname)
	}
	return ParseKey(val)
}

func ParseKey(encoded string) (*Key, error) {
	var k Key
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("transport: cannot decode string to valid key, cause %v", err)
	} else if len(buf) != len(k) {
		return nil, fmt.Errorf("transport: decoded key has %v bytes expecting %v", len(buf), len(k))
	}
	copy(k[:], buf)
	for i := range buf {
		buf[i] = 0
	}
	return &k, nil
}

func GenerateKey() (*Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return nil, fmt.Errorf("transport: unable to generate key, cause %w", err)
	}
	return &k, nil
}
