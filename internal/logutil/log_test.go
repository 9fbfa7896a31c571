package logutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("warn", false, &buf)
	require.NoError(t, err)
	l.Info().Msg("hidden")
	l.Warn().Str("user_id", "abc").Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"user_id":"abc"`)

	_, err = New("chatty", false, &buf)
	require.Error(t, err)
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("", false, &buf)
	require.NoError(t, err)
	ctx := WithLogger(context.Background(), l.With().Str("request_id", "r1").Logger())
	log := GetOrDefault(ctx)
	log.Info().Msg("hello")
	require.Contains(t, buf.String(), `"request_id":"r1"`)

	// without a logger in the context the global one is used
	fallback := GetOrDefault(context.Background())
	fallback.Debug().Msg("nothing to assert")
}
