package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andrebq/turnstile/credentials"
	"github.com/andrebq/turnstile/internal/metrics"
	"github.com/andrebq/turnstile/internal/testutil"
	"github.com/andrebq/turnstile/session"
	"github.com/andrebq/turnstile/store"
	"github.com/andrebq/turnstile/transport"
	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testKey = "blmHX4evD5FygUEa3EWxjzuAPF7lC4sKuWBrhgti/20="

type fixture struct {
	ctl      *store.Control
	registry *credentials.Registry
	sessions *session.Manager
	cookies  *transport.Cookies
	metrics  *metrics.M
	realm    *Realm
	handler  http.Handler
}

func newFixture(t *testing.T, backend func(*store.Control) session.Backend, visits bool) (*fixture, func()) {
	ctx := context.Background()
	ctl, cleanup := testutil.AcquireStore(ctx, t, "gateway")
	reg, err := credentials.NewRegistry(ctl, credentials.Bcrypt{Cost: bcrypt.MinCost})
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	key, err := transport.ParseKey(testKey)
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	var b session.Backend = session.NewSQLBackend(ctl)
	if backend != nil {
		b = backend(ctl)
	}
	f := &fixture{
		ctl:      ctl,
		registry: reg,
		sessions: session.NewManager(b, session.Policy{TTL: time.Hour}),
		cookies:  transport.NewCookies(key, transport.Options{}),
		metrics:  metrics.New("test"),
	}
	f.realm, err = NewRealm(f.sessions, f.cookies, Options{
		Registry:   reg,
		Metrics:    f.metrics,
		AutoCreate: visits,
	})
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	if visits {
		f.handler = f.realm.VisitsHandler()
	} else {
		f.handler = f.realm.AuthHandler()
	}
	return f, cleanup
}

func (f *fixture) register(t *testing.T, username, passwd string) {
	_, err := f.registry.Register(context.Background(), username, credentials.PlainText(passwd))
	require.NoError(t, err)
}

// login returns the signed cookie value issued by a successful login.
func (f *fixture) login(t *testing.T, username, passwd string) string {
	res := apitest.New().Handler(f.handler).
		Post("/log-in").
		FormData("username", username).
		FormData("password", passwd).
		Expect(t).
		Status(http.StatusSeeOther).
		Header("Location", "/").
		CookiePresent(transport.DefaultCookieName).
		End()
	return cookieValue(t, res.Response, transport.DefaultCookieName)
}

func (f *fixture) countSessions(t *testing.T) int {
	var n int
	err := f.ctl.Scan(context.Background(), []interface{}{&n}, `select count(*) from sessions`)
	require.NoError(t, err)
	return n
}

func cookieValue(t *testing.T, res *http.Response, name string) string {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	t.Fatalf("cookie %v not found", name)
	return ""
}

func findCookie(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func bodyContains(want string) func(*http.Response, *http.Request) error {
	return func(res *http.Response, _ *http.Request) error {
		buf, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		if !strings.Contains(string(buf), want) {
			return fmt.Errorf("body should contain %q, got %q", want, buf)
		}
		return nil
	}
}

func TestSignUpLogInLogOut(t *testing.T) {
	f, cleanup := newFixture(t, nil, false)
	defer cleanup()

	apitest.New().Handler(f.handler).
		Post("/sign-up").
		FormData("username", "alice").
		FormData("password", "pw1").
		Expect(t).
		Status(http.StatusSeeOther).
		Header("Location", "/").
		CookieNotPresent(transport.DefaultCookieName).
		End()
	require.Equal(t, 0, f.countSessions(t), "sign up does not log in")

	cookie := f.login(t, "alice", "pw1")
	require.Equal(t, 1, f.countSessions(t))

	apitest.New().Handler(f.handler).
		Get("/whoami").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.authenticated", true)).
		Assert(jsonpath.Equal("$.username", "alice")).
		CookieNotPresent(transport.DefaultCookieName).
		End()

	apitest.New().Handler(f.handler).
		Get("/").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Status(http.StatusOK).
		Assert(bodyContains("WELCOME BACK alice")).
		End()

	apitest.New().Handler(f.handler).
		Get("/me").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.username", "alice")).
		Assert(jsonpath.Present("$.id")).
		End()

	res := apitest.New().Handler(f.handler).
		Get("/log-out").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Status(http.StatusSeeOther).
		Header("Location", "/").
		CookiePresent(transport.DefaultCookieName).
		End()
	cleared := findCookie(res.Response, transport.DefaultCookieName)
	require.Empty(t, cleared.Value)
	require.True(t, cleared.MaxAge < 0)
	require.Equal(t, 0, f.countSessions(t))

	// the old cookie no longer authenticates
	apitest.New().Handler(f.handler).
		Get("/whoami").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.authenticated", false)).
		Assert(jsonpath.NotPresent("$.username")).
		End()
	apitest.New().Handler(f.handler).
		Get("/me").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Status(http.StatusUnauthorized).
		End()

	// logging out twice is fine
	apitest.New().Handler(f.handler).
		Post("/log-out").
		Expect(t).
		Status(http.StatusSeeOther).
		End()
}

func TestWrongPasswordAndUnknownUser(t *testing.T) {
	f, cleanup := newFixture(t, nil, false)
	defer cleanup()
	f.register(t, "bob", "right")

	for _, username := range []string{"bob", "nobody"} {
		apitest.New().Handler(f.handler).
			Post("/log-in").
			FormData("username", username).
			FormData("password", "wrong").
			Expect(t).
			Status(http.StatusUnauthorized).
			Assert(bodyContains(invalidCredentialsMessage)).
			CookieNotPresent(transport.DefaultCookieName).
			End()
	}
	require.Equal(t, 0, f.countSessions(t))

	apitest.New().Handler(f.handler).
		Post("/log-in").
		FormData("username", "").
		FormData("password", "").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
}

func TestTamperedCookieIsAnonymous(t *testing.T) {
	f, cleanup := newFixture(t, nil, false)
	defer cleanup()
	f.register(t, "alice", "pw1")
	cookie := f.login(t, "alice", "pw1")

	id, ok := f.cookies.Unsign(cookie)
	require.True(t, ok)
	other, err := transport.GenerateKey()
	require.NoError(t, err)
	forged := transport.NewCookies(other, transport.Options{}).Sign(id)

	for _, value := range []string{
		cookie[:len(cookie)-2] + "AA",
		"x" + cookie[1:],
		id,
		forged,
	} {
		if value == cookie {
			continue
		}
		res := apitest.New().Handler(f.handler).
			Get("/whoami").
			Cookie(transport.DefaultCookieName, value).
			Expect(t).
			Status(http.StatusOK).
			Assert(jsonpath.Equal("$.authenticated", false)).
			End()
		cleared := findCookie(res.Response, transport.DefaultCookieName)
		require.NotNil(t, cleared, "invalid cookies are cleared")
		require.Empty(t, cleared.Value)
	}
	// the real session was not affected
	apitest.New().Handler(f.handler).
		Get("/whoami").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Assert(jsonpath.Equal("$.authenticated", true)).
		End()
}

func TestExpiredSessionIsNotResurrected(t *testing.T) {
	f, cleanup := newFixture(t, nil, false)
	defer cleanup()
	f.register(t, "alice", "pw1")
	cookie := f.login(t, "alice", "pw1")
	id, _ := f.cookies.Unsign(cookie)

	_, err := f.ctl.Write(context.Background(), `update sessions set expire = ? where sid = ?`,
		time.Now().Add(-time.Second).UnixMilli(), id)
	require.NoError(t, err)

	apitest.New().Handler(f.handler).
		Get("/whoami").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Assert(jsonpath.Equal("$.authenticated", false)).
		End()
	require.Equal(t, 0, f.countSessions(t), "expired sessions are removed when seen")
}

func TestLoginReplacesSession(t *testing.T) {
	f, cleanup := newFixture(t, nil, false)
	defer cleanup()
	f.register(t, "alice", "pw1")
	f.register(t, "bob", "pw2")
	first := f.login(t, "alice", "pw1")
	firstID, _ := f.cookies.Unsign(first)

	res := apitest.New().Handler(f.handler).
		Post("/log-in").
		Cookie(transport.DefaultCookieName, first).
		FormData("username", "bob").
		FormData("password", "pw2").
		Expect(t).
		Status(http.StatusSeeOther).
		End()
	second := cookieValue(t, res.Response, transport.DefaultCookieName)
	secondID, _ := f.cookies.Unsign(second)
	require.NotEqual(t, firstID, secondID)

	_, err := f.sessions.Load(context.Background(), firstID)
	require.ErrorIs(t, err, session.ErrInvalidSession)
	require.Equal(t, 1, f.countSessions(t))

	apitest.New().Handler(f.handler).
		Get("/whoami").
		Cookie(transport.DefaultCookieName, second).
		Expect(t).
		Assert(jsonpath.Equal("$.username", "bob")).
		End()

	// a failed login keeps the current session
	apitest.New().Handler(f.handler).
		Post("/log-in").
		Cookie(transport.DefaultCookieName, second).
		FormData("username", "alice").
		FormData("password", "nope").
		Expect(t).
		Status(http.StatusUnauthorized).
		CookieNotPresent(transport.DefaultCookieName).
		End()
	apitest.New().Handler(f.handler).
		Get("/whoami").
		Cookie(transport.DefaultCookieName, second).
		Expect(t).
		Assert(jsonpath.Equal("$.username", "bob")).
		End()
}

func TestSignUpErrors(t *testing.T) {
	f, cleanup := newFixture(t, nil, false)
	defer cleanup()
	f.register(t, "alice", "pw1")

	apitest.New().Handler(f.handler).
		Post("/sign-up").
		FormData("username", "alice").
		FormData("password", "other").
		Expect(t).
		Status(http.StatusConflict).
		Assert(bodyContains("username already taken")).
		End()
	apitest.New().Handler(f.handler).
		Post("/sign-up").
		FormData("username", "   ").
		FormData("password", "pw").
		Expect(t).
		Status(http.StatusBadRequest).
		End()
	apitest.New().Handler(f.handler).
		Post("/sign-up").
		FormData("username", "carol").
		FormData("password", strings.Repeat("p", credentials.MaxPasswordLength+1)).
		Expect(t).
		Status(http.StatusBadRequest).
		End()
	apitest.New().Handler(f.handler).
		Get("/sign-up").
		Expect(t).
		Status(http.StatusOK).
		Assert(bodyContains(`action="/sign-up"`)).
		End()
}

func TestDeletedIdentityIsAnonymous(t *testing.T) {
	f, cleanup := newFixture(t, nil, false)
	defer cleanup()
	f.register(t, "alice", "pw1")
	cookie := f.login(t, "alice", "pw1")

	_, err := f.ctl.Write(context.Background(), `delete from users where username = ?`, "alice")
	require.NoError(t, err)

	apitest.New().Handler(f.handler).
		Get("/me").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
}

func TestStoreOutage(t *testing.T) {
	f, cleanup := newFixture(t, nil, false)
	f.register(t, "alice", "pw1")
	cookie := f.login(t, "alice", "pw1")
	cleanup()

	apitest.New().Handler(f.handler).
		Post("/log-in").
		FormData("username", "alice").
		FormData("password", "pw1").
		Expect(t).
		Status(http.StatusServiceUnavailable).
		CookieNotPresent(transport.DefaultCookieName).
		End()
	apitest.New().Handler(f.handler).
		Get("/me").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Status(http.StatusServiceUnavailable).
		End()
	apitest.New().Handler(f.handler).
		Post("/sign-up").
		FormData("username", "bob").
		FormData("password", "pw2").
		Expect(t).
		Status(http.StatusServiceUnavailable).
		End()
}

func TestVisitsCounter(t *testing.T) {
	f, cleanup := newFixture(t, nil, true)
	defer cleanup()

	res := apitest.New().Handler(f.handler).
		Get("/").
		Expect(t).
		Status(http.StatusOK).
		Assert(bodyContains("You have visited this page 1 time(s).")).
		CookiePresent(transport.DefaultCookieName).
		End()
	cookie := cookieValue(t, res.Response, transport.DefaultCookieName)

	for i := 2; i <= 3; i++ {
		apitest.New().Handler(f.handler).
			Get("/").
			Cookie(transport.DefaultCookieName, cookie).
			Expect(t).
			Status(http.StatusOK).
			Assert(bodyContains(fmt.Sprintf("You have visited this page %v time(s).", i))).
			End()
	}

	// another browser has its own counter
	apitest.New().Handler(f.handler).
		Get("/").
		Expect(t).
		Assert(bodyContains("You have visited this page 1 time(s).")).
		End()
	require.Equal(t, 2, f.countSessions(t))

	apitest.New().Handler(f.handler).
		Get("/metrics").
		Expect(t).
		Status(http.StatusOK).
		Assert(bodyContains(`turnstile_visits_total{server="test"} 4`)).
		End()
}

func TestFailedSaveTurnsInto503(t *testing.T) {
	var failPuts atomic.Bool
	f, cleanup := newFixture(t, func(ctl *store.Control) session.Backend {
		return &flakyBackend{Backend: session.NewSQLBackend(ctl), failPuts: &failPuts}
	}, true)
	defer cleanup()

	failPuts.Store(true)
	apitest.New().Handler(f.handler).
		Get("/").
		Expect(t).
		Status(http.StatusServiceUnavailable).
		CookieNotPresent(transport.DefaultCookieName).
		Assert(func(res *http.Response, _ *http.Request) error {
			buf, _ := io.ReadAll(res.Body)
			if strings.Contains(string(buf), "visited") {
				return errors.New("the page must not be served when the session was not saved")
			}
			return nil
		}).
		End()
	require.Equal(t, 0, f.countSessions(t))

	failPuts.Store(false)
	apitest.New().Handler(f.handler).
		Get("/").
		Expect(t).
		Status(http.StatusOK).
		CookiePresent(transport.DefaultCookieName).
		End()
}

func TestLoginMetrics(t *testing.T) {
	f, cleanup := newFixture(t, nil, false)
	defer cleanup()
	f.register(t, "alice", "pw1")
	f.login(t, "alice", "pw1")
	apitest.New().Handler(f.handler).
		Post("/log-in").
		FormData("username", "alice").
		FormData("password", "bad").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()

	apitest.New().Handler(f.handler).
		Get("/metrics").
		Expect(t).
		Status(http.StatusOK).
		Assert(bodyContains(`turnstile_logins_total{result="success",server="test"} 1`)).
		Assert(bodyContains(`turnstile_logins_total{result="invalid",server="test"} 1`)).
		End()
}

func TestProtectWithoutMiddleware(t *testing.T) {
	f, cleanup := newFixture(t, nil, false)
	defer cleanup()
	var count uint32
	protected := f.realm.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddUint32(&count, 1)
	}))
	apitest.Handler(protected).Get("/").Expect(t).Status(http.StatusUnauthorized).End()
	require.Zero(t, atomic.LoadUint32(&count))
}

type flakyBackend struct {
	session.Backend
	failPuts *atomic.Bool
}

func (b *flakyBackend) Put(ctx context.Context, rec session.Record) error {
	if b.failPuts.Load() {
		return store.MarkUnavailable("test", errors.New("disk full"))
	}
	return b.Backend.Put(ctx, rec)
}

func TestRenewPolicyExtendsAuthenticatedSessions(t *testing.T) {
	f, cleanup := newFixture(t, nil, false)
	defer cleanup()
	f.register(t, "alice", "pw1")
	cookie := f.login(t, "alice", "pw1")

	// fixed lifetime: reads do not touch the session
	res := apitest.New().Handler(f.handler).
		Get("/whoami").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.authenticated", true)).
		End()
	require.Nil(t, findCookie(res.Response, transport.DefaultCookieName))

	f.sessions = session.NewManager(session.NewSQLBackend(f.ctl), session.Policy{TTL: time.Hour, Renew: true})
	var err error
	f.realm, err = NewRealm(f.sessions, f.cookies, Options{Registry: f.registry, Metrics: f.metrics})
	require.NoError(t, err)
	f.handler = f.realm.AuthHandler()

	expire := func() int64 {
		var ms int64
		err := f.ctl.Scan(context.Background(), []interface{}{&ms}, `select expire from sessions`)
		require.NoError(t, err)
		return ms
	}
	before := expire()
	time.Sleep(5 * time.Millisecond)

	res = apitest.New().Handler(f.handler).
		Get("/whoami").
		Cookie(transport.DefaultCookieName, cookie).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.username", "alice")).
		End()
	renewed := findCookie(res.Response, transport.DefaultCookieName)
	require.NotNil(t, renewed, "a renewing policy re-issues the cookie")
	require.Equal(t, cookie, renewed.Value, "the session id does not change")
	require.Greater(t, expire(), before)
	require.Equal(t, 1, f.countSessions(t))
}
