package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/andrebq/turnstile/credentials"
	"github.com/andrebq/turnstile/internal/httpserver"
	"github.com/andrebq/turnstile/internal/logutil"
	"github.com/andrebq/turnstile/internal/metrics"
	"github.com/andrebq/turnstile/session"
	"github.com/andrebq/turnstile/transport"
	"github.com/andrebq/turnstile/views"
)

type (
	Realm struct {
		registry   *credentials.Registry
		sessions   *session.Manager
		cookies    *transport.Cookies
		views      *views.Renderer
		metrics    *metrics.M
		autoCreate bool
	}

	Options struct {
		// Registry resolves the identity kept in the session. Without it
		// every request is anonymous and Login is unavailable.
		Registry *credentials.Registry
		Views    *views.Renderer
		Metrics  *metrics.M
		// AutoCreate gives a new session to every request that lacks one.
		AutoCreate bool
	}
)

var (
	errNoRegistry = errors.New("gateway: realm has no credential registry")
)

func NewRealm(sessions *session.Manager, cookies *transport.Cookies, opts Options) (*Realm, error) {
	if opts.Views == nil {
		var err error
		opts.Views, err = views.Default()
		if err != nil {
			return nil, fmt.Errorf("unable to load default views, cause %w", err)
		}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New("turnstile")
	}
	return &Realm{
		registry:   opts.Registry,
		sessions:   sessions,
		cookies:    cookies,
		views:      opts.Views,
		metrics:    opts.Metrics,
		autoCreate: opts.AutoCreate,
	}, nil
}

// Middleware classifies the request as anonymous or authenticated and
// makes the result available through StateFrom. Session changes made by
// next are saved, and the cookie attached, right before the response
// header is written.
func (r *Realm) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		st, err := r.classify(ctx, req)
		if err != nil {
			log := logutil.GetOrDefault(ctx)
			log.Error().Err(err).Msg("Unable to classify request")
			r.unavailable(w, req, "classify")
			return
		}
		cw := &committer{ResponseWriter: w, realm: r, req: req, state: st}
		next.ServeHTTP(cw, req.WithContext(withState(ctx, st)))
		cw.commit()
	})
}

// Protect rejects anonymous requests with 401.
func (r *Realm) Protect(sensitive http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !StateFrom(req.Context()).Authenticated() {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		sensitive.ServeHTTP(w, req)
	})
}

func (r *Realm) classify(ctx context.Context, req *http.Request) (*State, error) {
	log := logutil.GetOrDefault(ctx)
	st := &State{}
	if id, ok := r.cookies.Extract(req); ok {
		s, err := r.sessions.Load(ctx, id)
		switch {
		case err == nil:
			st.Session = s
		case errors.Is(err, session.ErrInvalidSession):
			log.Debug().Msg("Request carries an unknown or expired session")
			st.staleCookie = true
		default:
			return nil, err
		}
	} else if _, err := req.Cookie(r.cookies.Name()); err == nil {
		log.Debug().Msg("Request carries a cookie with an invalid signature")
		st.staleCookie = true
	}

	if st.Session != nil && st.Session.UserID() != "" && r.registry != nil {
		ident, err := r.registry.Deserialize(ctx, st.Session.UserID())
		switch {
		case err == nil:
			st.Identity = &ident
		case errors.Is(err, credentials.ErrUnknownIdentity):
			log.Warn().Str("user_id", st.Session.UserID()).Msg("Session references an unknown identity")
		default:
			return nil, err
		}
	}

	if st.Session != nil && r.sessions.Policy().Renew {
		st.Session.Touch()
	}

	if st.Session == nil && r.autoCreate {
		s, err := r.sessions.Create()
		if err != nil {
			return nil, err
		}
		st.Session = s
	}
	return st, nil
}

// persist saves a dirty session and attaches its cookie.
func (r *Realm) persist(w http.ResponseWriter, req *http.Request, st *State) error {
	if st.Session != nil && st.Session.Dirty() {
		err := r.sessions.Save(req.Context(), st.Session)
		if errors.Is(err, session.ErrInvalidSession) {
			// expired while the request was running
			st.Session = nil
			st.Identity = nil
			r.cookies.Clear(w)
			return nil
		} else if err != nil {
			return err
		}
		r.metrics.SessionsSaved.Inc()
		r.cookies.Attach(w, st.Session.ID, st.Session.ExpiresAt)
		return nil
	}
	if st.staleCookie {
		r.cookies.Clear(w)
	}
	return nil
}

// committer delays the session save until the handler starts the
// response, so the Set-Cookie header can still be added. When the save
// fails the handler's response is replaced by a 503.
type committer struct {
	http.ResponseWriter
	realm *Realm
	req   *http.Request
	state *State

	committed bool
	failed    bool
}

func (c *committer) WriteHeader(code int) {
	if !c.commit() {
		return
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *committer) Write(buf []byte) (int, error) {
	if !c.commit() {
		return len(buf), nil
	}
	return c.ResponseWriter.Write(buf)
}

func (c *committer) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}

func (c *committer) commit() bool {
	if c.committed {
		return !c.failed
	}
	c.committed = true
	err := c.realm.persist(c.ResponseWriter, c.req, c.state)
	if err == nil {
		return true
	}
	c.failed = true
	log := logutil.GetOrDefault(c.req.Context())
	log.Error().Err(err).Msg("Unable to save session")
	h := c.ResponseWriter.Header()
	for k := range h {
		if k != httpserver.RequestIDHeader {
			h.Del(k)
		}
	}
	c.realm.unavailable(c.ResponseWriter, c.req, "session save")
	return false
}
