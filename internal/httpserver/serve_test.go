package httpserver

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/andrebq/turnstile/internal/logutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/require"
)

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	var seen string
	h := WithRequestLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logutil.GetOrDefault(r.Context())
		log.Info().Msg("inside")
		seen = w.Header().Get(RequestIDHeader)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	withLogger := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(logutil.WithLogger(r.Context(), logger)))
	})

	apitest.Handler(withLogger).Post("/log-in").
		FormData("password", "hunter2").
		Expect(t).
		Status(http.StatusServiceUnavailable).
		HeaderPresent(RequestIDHeader).
		End()

	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	out := buf.String()
	require.Contains(t, out, `"request_id":"`+seen+`"`)
	require.Contains(t, out, `"status":503`)
	require.Contains(t, out, `"path":"/log-in"`)
	require.Contains(t, out, `"level":"warn"`)
	require.NotContains(t, out, "hunter2")
}

func TestServeListenerShutsDown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeListener(ctx, l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "ok")
		}))
	}()

	res, err := http.Get("http://" + l.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	require.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
