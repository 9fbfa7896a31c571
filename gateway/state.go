package gateway

import (
	"context"

	"github.com/andrebq/turnstile/credentials"
	"github.com/andrebq/turnstile/session"
)

type (
	// State is what the gateway knows about the request. It is computed
	// from the store on every request and never persisted.
	State struct {
		// Session is nil when the request has no valid session and the
		// realm does not create them automatically.
		Session *session.Session
		// Identity is nil for anonymous requests.
		Identity *credentials.Identity

		staleCookie bool
	}

	stateKey struct{}
)

func (s *State) Authenticated() bool {
	return s != nil && s.Identity != nil
}

func withState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

// StateFrom returns the state attached by Realm.Middleware. Requests that
// did not go through the middleware get an anonymous state without a
// session.
func StateFrom(ctx context.Context) *State {
	st, _ := ctx.Value(stateKey{}).(*State)
	if st == nil {
		return &State{}
	}
	return st
}
