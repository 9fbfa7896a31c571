package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

type (
	// Cookies moves session ids between server and browser inside a
	// signed cookie. Invalid cookies are indistinguishable from missing
	// ones.
	Cookies struct {
		name     string
		key      Key
		insecure bool
		now      func() time.Time
	}

	Options struct {
		// Name of the cookie, defaults to DefaultCookieName.
		Name string
		// Insecure drops the Secure attribute, for plain http development.
		Insecure bool
	}
)

const (
	DefaultCookieName = "turnstile.sid"
)

var (
	signatureEncoding = base64.RawURLEncoding.Strict()
	signatureLength   = signatureEncoding.EncodedLen(sha256.Size)
)

func NewCookies(key *Key, opts Options) *Cookies {
	if opts.Name == "" {
		opts.Name = DefaultCookieName
	}
	return &Cookies{
		name:     opts.Name,
		key:      *key,
		insecure: opts.Insecure,
		now:      time.Now,
	}
}

func (c *Cookies) Name() string {
	return c.name
}

// Extract returns the session id carried by the request cookie, if the
// cookie is present and its signature is valid.
func (c *Cookies) Extract(r *http.Request) (string, bool) {
	ck, err := r.Cookie(c.name)
	if err != nil {
		return "", false
	}
	return c.Unsign(ck.Value)
}

// Attach sets the signed cookie for id, valid until expiresAt.
func (c *Cookies) Attach(w http.ResponseWriter, id string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(c.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, c.cookie(c.Sign(id), expiresAt, maxAge))
}

// Clear tells the browser to drop the cookie.
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", time.Unix(0, 0), -1))
}

// Sign returns id followed by a dot and the signature of id.
func (c *Cookies) Sign(id string) string {
	return id + "." + signatureEncoding.EncodeToString(c.mac(id))
}

func (c *Cookies) Unsign(value string) (string, bool) {
	dot := strings.LastIndexByte(value, '.')
	if dot <= 0 || len(value)-dot-1 != signatureLength {
		return "", false
	}
	id, sig := value[:dot], value[dot+1:]
	given, err := signatureEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	if !hmac.Equal(given, c.mac(id)) {
		return "", false
	}
	return id, true
}

// mac binds the signature to the cookie name so a value cannot be moved
// to another cookie.
func (c *Cookies) mac(id string) []byte {
	h := hmac.New(sha256.New, c.key[:])
	h.Write([]byte(c.name))
	h.Write([]byte{0})
	h.Write([]byte(id))
	return h.Sum(nil)
}

func (c *Cookies) cookie(value string, expires time.Time, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !c.insecure,
		SameSite: http.SameSiteLaxMode,
	}
}
