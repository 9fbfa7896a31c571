package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

type (
	// Hasher turns a password into a salted, self describing hash and
	// checks passwords against hashes it produced.
	Hasher interface {
		Hash(passwd PlainText) (string, error)
		// Compare returns nil only when passwd matches hash.
		Compare(hash string, passwd PlainText) error
		// Handles reports whether hash was produced by this scheme.
		Handles(hash string) bool
	}

	Bcrypt struct {
		Cost int
	}

	Argon2id struct {
		Time      uint32
		MemoryKiB uint32
		Threads   uint8
		SaltLen   uint32
		KeyLen    uint32
	}
)

const (
	SchemeBcrypt   = "bcrypt"
	SchemeArgon2id = "argon2id"

	DefaultBcryptCost = 10
)

var (
	errInvalidHash = errors.New("malformed password hash")
)

func DefaultBcrypt() Bcrypt {
	return Bcrypt{Cost: DefaultBcryptCost}
}

func (b Bcrypt) Hash(passwd PlainText) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	buf, err := bcrypt.GenerateFromPassword(passwd, cost)
	if err != nil {
		return "", fmt.Errorf("unable to compute bcrypt hash, cause %w", err)
	}
	return string(buf), nil
}

func (b Bcrypt) Compare(hash string, passwd PlainText) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), passwd)
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return errMismatch
	}
	return err
}

func (b Bcrypt) Handles(hash string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(hash, prefix) {
			return true
		}
	}
	return false
}

func DefaultArgon2id() Argon2id {
	return Argon2id{
		Time:      3,
		MemoryKiB: 64 * 1024,
		Threads:   2,
		SaltLen:   16,
		KeyLen:    32,
	}
}

// Hash encodes the result using the PHC string format:
// $argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<key>
func (a Argon2id) Hash(passwd PlainText) (string, error) {
	salt := make([]byte, a.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("unable to generate salt, cause %w", err)
	}
	key := argon2.IDKey(passwd, salt, a.Time, a.MemoryKiB, a.Threads, a.KeyLen)
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%v$%v",
		argon2.Version, a.MemoryKiB, a.Time, a.Threads,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

func (a Argon2id) Compare(hash string, passwd PlainText) error {
	params, salt, expected, err := decodeArgon2id(hash)
	if err != nil {
		return err
	}
	// hashes asking for far more work than we would ever produce are
	// refused instead of computed
	if uint64(params.MemoryKiB) > uint64(a.MemoryKiB)*4 ||
		uint64(params.Time) > uint64(a.Time)*4 ||
		uint32(params.Threads) > uint32(a.Threads)*4 {
		return errInvalidHash
	}
	key := argon2.IDKey(passwd, salt, params.Time, params.MemoryKiB, params.Threads, uint32(len(expected)))
	if subtle.ConstantTimeCompare(key, expected) != 1 {
		return errMismatch
	}
	return nil
}

func (a Argon2id) Handles(hash string) bool {
	return strings.HasPrefix(hash, "$argon2id$")
}

func decodeArgon2id(hash string) (Argon2id, []byte, []byte, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2id{}, nil, nil, errInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return Argon2id{}, nil, nil, errInvalidHash
	}
	var mem, t, p uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &t, &p); err != nil {
		return Argon2id{}, nil, nil, errInvalidHash
	}
	if mem == 0 || t == 0 || p == 0 || p > 255 {
		return Argon2id{}, nil, nil, errInvalidHash
	}
	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 {
		return Argon2id{}, nil, nil, errInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > 128 {
		return Argon2id{}, nil, nil, errInvalidHash
	}
	return Argon2id{
		Time:      t,
		MemoryKiB: mem,
		Threads:   uint8(p),
		SaltLen:   uint32(len(salt)),
		KeyLen:    uint32(len(key)),
	}, salt, key, nil
}

// HasherFor returns the hasher configured for the given scheme name.
func HasherFor(scheme string, bcryptCost int, argon Argon2id) (Hasher, error) {
	switch scheme {
	case "", SchemeBcrypt:
		if bcryptCost != 0 && (bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost) {
			return nil, fmt.Errorf("bcrypt cost must be between %v and %v, got %v", bcrypt.MinCost, bcrypt.MaxCost, bcryptCost)
		}
		return Bcrypt{Cost: bcryptCost}, nil
	case SchemeArgon2id:
		if argon.Time == 0 || argon.MemoryKiB == 0 || argon.Threads == 0 || argon.SaltLen < 8 || argon.KeyLen < 16 {
			return nil, fmt.Errorf("invalid argon2id parameters %+v", argon)
		}
		return argon, nil
	}
	return nil, fmt.Errorf("unknown password scheme %q", scheme)
}
