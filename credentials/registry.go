package credentials

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/andrebq/turnstile/internal/logutil"
	"github.com/andrebq/turnstile/store"
	"github.com/oklog/ulid/v2"
)

type (
	PlainText []byte

	Identity struct {
		ID        string
		Username  string
		CreatedAt time.Time
	}

	Registry struct {
		ctl     *store.Control
		hashers []Hasher
		// dummy is compared against when the username is unknown
		dummy string
		now   func() time.Time
	}
)

const (
	MaxUsernameLength = 64
	// bcrypt ignores anything past 72 bytes
	MaxPasswordLength = 72
)

func (p PlainText) Zero() {
	for i := range p {
		p[i] = 0
	}
}

// NewRegistry returns a Registry that hashes new passwords with primary.
// Hashes produced by the other known schemes are still verified.
func NewRegistry(ctl *store.Control, primary Hasher) (*Registry, error) {
	if primary == nil {
		primary = DefaultBcrypt()
	}
	r := &Registry{
		ctl:     ctl,
		hashers: []Hasher{primary, DefaultBcrypt(), DefaultArgon2id()},
		now:     time.Now,
	}
	seed := make(PlainText, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("unable to generate dummy password, cause %w", err)
	}
	var err error
	r.dummy, err = primary.Hash(seed)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Register stores a new identity for username. Usernames are stored and
// matched exactly, so leading or trailing whitespace is rejected.
func (r *Registry) Register(ctx context.Context, username string, passwd PlainText) (Identity, error) {
	if err := validateRegistration(username, passwd); err != nil {
		return Identity{}, err
	}
	_, _, err := r.lookupByUsername(ctx, username)
	switch {
	case err == nil:
		return Identity{}, DuplicateUsername{Username: username}
	case !errors.Is(err, sql.ErrNoRows):
		return Identity{}, fmt.Errorf("unable to check username availability, cause %w", err)
	}
	hash, err := r.hashers[0].Hash(passwd)
	if err != nil {
		return Identity{}, err
	}
	now := r.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("unable to generate identity id, cause %w", err)
	}
	ident := Identity{
		ID:        id.String(),
		Username:  username,
		CreatedAt: time.UnixMilli(now.UnixMilli()).UTC(),
	}
	_, err = r.ctl.Write(ctx, `insert into users(user_id, username, password_hash, created_at) values (?, ?, ?, ?)`,
		ident.ID, ident.Username, hash, ident.CreatedAt.UnixMilli())
	if store.IsUniqueViolation(err) {
		// lost a race against another registration
		return Identity{}, DuplicateUsername{Username: username}
	} else if err != nil {
		return Identity{}, fmt.Errorf("unable to store identity %v, cause %w", username, err)
	}
	log := logutil.GetOrDefault(ctx)
	log.Info().Str("user_id", ident.ID).Str("username", ident.Username).Msg("Identity registered")
	return ident, nil
}

// Verify checks username and passwd against the stored hash. Any mismatch
// (unknown user, wrong password, malformed input) is reported as
// ErrInvalidCredentials. Store failures are returned as they are so
// callers can tell them apart with errors.Is(err, store.ErrUnavailable).
func (r *Registry) Verify(ctx context.Context, username string, passwd PlainText) (Identity, error) {
	log := logutil.GetOrDefault(ctx)
	if !validLogin(username, passwd) {
		r.burn(passwd)
		log.Debug().Str("reason", "malformed input").Msg("Credentials rejected")
		return Identity{}, ErrInvalidCredentials
	}
	ident, hash, err := r.lookupByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		r.burn(passwd)
		log.Debug().Str("username", username).Str("reason", "unknown user").Msg("Credentials rejected")
		return Identity{}, ErrInvalidCredentials
	} else if err != nil {
		return Identity{}, fmt.Errorf("unable to lookup credentials, cause %w", err)
	}
	if err := r.compare(hash, passwd); err != nil {
		reason := "password mismatch"
		if !errors.Is(err, errMismatch) {
			reason = "unusable hash"
			log.Warn().Err(err).Str("user_id", ident.ID).Msg("Stored password hash cannot be verified")
		}
		log.Debug().Str("username", username).Str("reason", reason).Msg("Credentials rejected")
		return Identity{}, ErrInvalidCredentials
	}
	return ident, nil
}

// Lookup loads the identity with the given id.
func (r *Registry) Lookup(ctx context.Context, id string) (Identity, error) {
	var ident Identity
	var created int64
	err := r.ctl.Scan(ctx, []interface{}{&ident.ID, &ident.Username, &created},
		`select user_id, username, created_at from users where user_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrUnknownIdentity
	} else if err != nil {
		return Identity{}, fmt.Errorf("unable to load identity %v, cause %w", id, err)
	}
	ident.CreatedAt = time.UnixMilli(created).UTC()
	return ident, nil
}

// Serialize returns the compact reference to ident kept in session data.
func Serialize(ident Identity) string {
	return ident.ID
}

// Deserialize resolves a reference produced by Serialize.
func (r *Registry) Deserialize(ctx context.Context, ref string) (Identity, error) {
	if ref == "" {
		return Identity{}, ErrUnknownIdentity
	}
	return r.Lookup(ctx, ref)
}

func (r *Registry) lookupByUsername(ctx context.Context, username string) (Identity, string, error) {
	var ident Identity
	var hash string
	var created int64
	err := r.ctl.Scan(ctx, []interface{}{&ident.ID, &ident.Username, &hash, &created},
		`select user_id, username, password_hash, created_at from users where username = ?`, username)
	if err != nil {
		return Identity{}, "", err
	}
	ident.CreatedAt = time.UnixMilli(created).UTC()
	return ident, hash, nil
}

func (r *Registry) compare(hash string, passwd PlainText) error {
	for _, h := range r.hashers {
		if h.Handles(hash) {
			return h.Compare(hash, passwd)
		}
	}
	return errInvalidHash
}

// burn spends the same effort as a real comparison
func (r *Registry) burn(passwd PlainText) {
	_ = r.hashers[0].Compare(r.dummy, passwd)
}

func validLogin(username string, passwd PlainText) bool {
	return validateRegistration(username, passwd) == nil
}

func validateRegistration(username string, passwd PlainText) error {
	switch {
	case username == "":
		return InvalidRegistration{Field: "username", Reason: "cannot be empty"}
	case strings.TrimSpace(username) != username:
		return InvalidRegistration{Field: "username", Reason: "cannot start or end with whitespace"}
	case !utf8.ValidString(username):
		return InvalidRegistration{Field: "username", Reason: "must be valid utf-8"}
	case utf8.RuneCountInString(username) > MaxUsernameLength:
		return InvalidRegistration{Field: "username", Reason: fmt.Sprintf("cannot be longer than %v characters", MaxUsernameLength)}
	case strings.IndexFunc(username, unicode.IsControl) >= 0:
		return InvalidRegistration{Field: "username", Reason: "cannot contain control characters"}
	case len(passwd) == 0:
		return InvalidRegistration{Field: "password", Reason: "cannot be empty"}
	case len(passwd) > MaxPasswordLength:
		return InvalidRegistration{Field: "password", Reason: fmt.Sprintf("cannot be longer than %v bytes", MaxPasswordLength)}
	}
	return nil
}
