package gateway

import (
	"errors"
	"net/http"

	"github.com/andrebq/turnstile/credentials"
	"github.com/andrebq/turnstile/internal/logutil"
)

const (
	invalidCredentialsMessage = "invalid username or password"
	viewsCounter              = "views"
)

type (
	whoami struct {
		Authenticated bool   `json:"authenticated"`
		Username      string `json:"username,omitempty"`
	}

	me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
)

func (r *Realm) home(w http.ResponseWriter, req *http.Request) {
	r.render(w, req, http.StatusOK, "index", homeData(StateFrom(req.Context()), "", ""))
}

func homeData(st *State, username, message string) map[string]interface{} {
	data := map[string]interface{}{}
	if st.Authenticated() {
		data["user"] = map[string]interface{}{
			"id":       st.Identity.ID,
			"username": st.Identity.Username,
		}
	}
	if message != "" {
		data["error"] = message
	}
	if username != "" {
		data["username"] = username
	}
	return data
}

func (r *Realm) signUpForm(w http.ResponseWriter, req *http.Request) {
	r.render(w, req, http.StatusOK, "sign_up", nil)
}

func (r *Realm) signUp(w http.ResponseWriter, req *http.Request) {
	if r.registry == nil {
		r.failed(w, req, "register", errNoRegistry)
		return
	}
	if err := parseForm(w, req); err != nil {
		r.metrics.Registrations.WithLabelValues("invalid").Inc()
		r.render(w, req, http.StatusBadRequest, "sign_up", map[string]interface{}{"error": "malformed form"})
		return
	}
	username := req.PostFormValue("username")
	passwd := credentials.PlainText(req.PostFormValue("password"))
	defer passwd.Zero()

	_, err := r.registry.Register(req.Context(), username, passwd)
	var invalid credentials.InvalidRegistration
	switch {
	case err == nil:
		r.metrics.Registrations.WithLabelValues("success").Inc()
		http.Redirect(w, req, "/", http.StatusSeeOther)
	case errors.As(err, &invalid):
		r.metrics.Registrations.WithLabelValues("invalid").Inc()
		r.render(w, req, http.StatusBadRequest, "sign_up", map[string]interface{}{
			"error":    invalid.Error(),
			"username": username,
		})
	case errors.Is(err, credentials.ErrDuplicateUsername):
		r.metrics.Registrations.WithLabelValues("duplicate").Inc()
		r.render(w, req, http.StatusConflict, "sign_up", map[string]interface{}{
			"error":    "username already taken",
			"username": username,
		})
	default:
		r.metrics.Registrations.WithLabelValues("error").Inc()
		r.failed(w, req, "register", err)
	}
}

func (r *Realm) logIn(w http.ResponseWriter, req *http.Request) {
	if err := parseForm(w, req); err != nil {
		r.metrics.Logins.WithLabelValues("invalid").Inc()
		r.render(w, req, http.StatusBadRequest, "index", homeData(StateFrom(req.Context()), "", "malformed form"))
		return
	}
	username := req.PostFormValue("username")
	passwd := credentials.PlainText(req.PostFormValue("password"))
	defer passwd.Zero()

	_, err := r.Login(w, req, username, passwd)
	switch {
	case err == nil:
		r.metrics.Logins.WithLabelValues("success").Inc()
		http.Redirect(w, req, "/", http.StatusSeeOther)
	case errors.Is(err, credentials.ErrInvalidCredentials):
		r.metrics.Logins.WithLabelValues("invalid").Inc()
		r.render(w, req, http.StatusUnauthorized, "index", homeData(StateFrom(req.Context()), username, invalidCredentialsMessage))
	default:
		r.metrics.Logins.WithLabelValues("error").Inc()
		r.failed(w, req, "login", err)
	}
}

func (r *Realm) logOut(w http.ResponseWriter, req *http.Request) {
	r.metrics.Logouts.Inc()
	if err := r.Logout(w, req); err != nil {
		log := logutil.GetOrDefault(req.Context())
		log.Error().Err(err).Msg("Unable to destroy session on logout")
	}
	http.Redirect(w, req, "/", http.StatusSeeOther)
}

func (r *Realm) whoami(w http.ResponseWriter, req *http.Request) {
	st := StateFrom(req.Context())
	body := whoami{Authenticated: st.Authenticated()}
	if body.Authenticated {
		body.Username = st.Identity.Username
	}
	writeJSON(w, req, http.StatusOK, body)
}

func (r *Realm) me(w http.ResponseWriter, req *http.Request) {
	ident := StateFrom(req.Context()).Identity
	writeJSON(w, req, http.StatusOK, me{ID: ident.ID, Username: ident.Username})
}

func (r *Realm) visits(w http.ResponseWriter, req *http.Request) {
	st := StateFrom(req.Context())
	if st.Session == nil {
		r.errorPage(w, req, http.StatusInternalServerError, "Something went wrong")
		return
	}
	n := st.Session.Incr(viewsCounter)
	r.metrics.Visits.Inc()
	r.render(w, req, http.StatusOK, "visits", map[string]interface{}{"views": n})
}
