package gateway

import (
	"net/http"

	"github.com/andrebq/turnstile/internal/httpserver"
	"github.com/julienschmidt/httprouter"
)

// AuthHandler serves the sign up / log in application.
func (r *Realm) AuthHandler() http.Handler {
	router := httprouter.New()
	router.Handler("GET", "/", r.Middleware(http.HandlerFunc(r.home)))
	router.Handler("GET", "/sign-up", r.Middleware(http.HandlerFunc(r.signUpForm)))
	router.Handler("POST", "/sign-up", r.Middleware(http.HandlerFunc(r.signUp)))
	router.Handler("POST", "/log-in", r.Middleware(http.HandlerFunc(r.logIn)))
	logOut := r.Middleware(http.HandlerFunc(r.logOut))
	router.Handler("GET", "/log-out", logOut)
	router.Handler("POST", "/log-out", logOut)
	router.Handler("GET", "/whoami", r.Middleware(http.HandlerFunc(r.whoami)))
	router.Handler("GET", "/me", r.Middleware(r.Protect(http.HandlerFunc(r.me))))
	router.Handler("GET", "/metrics", r.metrics.Handler())
	return httpserver.WithRequestLog(r.metrics.Instrument(router))
}

// VisitsHandler serves the page that counts visits per session.
func (r *Realm) VisitsHandler() http.Handler {
	router := httprouter.New()
	router.Handler("GET", "/", r.Middleware(http.HandlerFunc(r.visits)))
	router.Handler("GET", "/metrics", r.metrics.Handler())
	return httpserver.WithRequestLog(r.metrics.Instrument(router))
}
