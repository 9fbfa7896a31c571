package gateway

import (
	"net/http"

	"github.com/andrebq/turnstile/credentials"
	"github.com/andrebq/turnstile/internal/logutil"
)

// Login verifies the credentials and, on success, replaces the current
// session (if any) by a new one bound to the identity. Counters of the
// previous session are carried over. On failure the current session is
// left untouched.
//
// The request must have gone through Middleware.
func (r *Realm) Login(w http.ResponseWriter, req *http.Request, username string, passwd credentials.PlainText) (credentials.Identity, error) {
	if r.registry == nil {
		return credentials.Identity{}, errNoRegistry
	}
	ctx := req.Context()
	log := logutil.GetOrDefault(ctx)
	st := StateFrom(ctx)

	ident, err := r.registry.Verify(ctx, username, passwd)
	if err != nil {
		return credentials.Identity{}, err
	}
	fresh, err := r.sessions.Create()
	if err != nil {
		return credentials.Identity{}, err
	}
	if st.Session != nil {
		fresh.CopyCounters(st.Session)
	}
	fresh.SetUserID(credentials.Serialize(ident))
	if err := r.sessions.Save(ctx, fresh); err != nil {
		return credentials.Identity{}, err
	}
	r.metrics.SessionsSaved.Inc()
	if old := st.Session; old != nil && !old.IsNew() {
		if err := r.sessions.Destroy(ctx, old.ID); err != nil {
			// the old session no longer has a cookie pointing to it
			log.Warn().Err(err).Msg("Unable to destroy previous session, it will expire on its own")
		}
	}
	r.cookies.Attach(w, fresh.ID, fresh.ExpiresAt)
	st.Session = fresh
	st.Identity = &ident
	st.staleCookie = false
	log.Info().Str("user_id", ident.ID).Msg("Logged in")
	return ident, nil
}

// Logout destroys the current session and clears the cookie. The cookie
// is cleared and the request becomes anonymous even when the store
// fails; the error is still returned.
func (r *Realm) Logout(w http.ResponseWriter, req *http.Request) error {
	ctx := req.Context()
	st := StateFrom(ctx)
	var err error
	if st.Session != nil && !st.Session.IsNew() {
		err = r.sessions.Destroy(ctx, st.Session.ID)
	}
	if st.Identity != nil {
		log := logutil.GetOrDefault(ctx)
		log.Info().Str("user_id", st.Identity.ID).Msg("Logged out")
	}
	r.cookies.Clear(w)
	st.Session = nil
	st.Identity = nil
	st.staleCookie = false
	return err
}
