//go:build !integration

package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-membership/internal/config"
)

func TestServerLifecycle(t *testing.T) {
	t.Run("should serve until the context ends", func(t *testing.T) {
		// --- Arrange ---
		l := zerolog.New(io.Discard)
		h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("pong")) })
		srv := NewServer(config.HTTPConfig{ReadTimeout: time.Second, WriteTimeout: time.Second}, h, &l)
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- srv.Serve(ctx, ln) }()

		// --- Act ---
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()

		// --- Assert ---
		assert.Equal(t, "pong", string(body))
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	})
}
