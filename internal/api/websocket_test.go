package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-intranet-chat/internal/auth"
	"github.com/npezzotti/go-intranet-chat/internal/cache"
	"github.com/npezzotti/go-intranet-chat/internal/config"
	"github.com/npezzotti/go-intranet-chat/internal/database"
	"github.com/npezzotti/go-intranet-chat/internal/server"
	"github.com/npezzotti/go-intranet-chat/internal/stats"
	"github.com/npezzotti/go-intranet-chat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func startTestApp(t *testing.T, allowedOrigins []string) (*httptest.Server, *server.ChatServer) {
	db := &database.MockChatRepository{}
	mutes := &cache.MockMuteList{}

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return(nil)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	logger := testutil.TestLogger(t)
	cs, err := server.NewChatServer(logger, db, mutes, su)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	app := NewChatApp(http.NewServeMux(), logger, cs, db, mutes, &config.Config{
		SigningKey:     testSigningKey,
		AllowedOrigins: allowedOrigins,
	})

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return srv, cs
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func Test_serveWs_rejectsUnauthenticated(t *testing.T) {
	srv, cs := startTestApp(t, nil)

	forged, err := auth.NewToken([]byte("not-the-key"), auth.Identity{UserId: "a"}, time.Hour)
	require.NoError(t, err)

	tcases := []struct {
		name  string
		query string
	}{
		{name: "no token"},
		{name: "expired token", query: "?token=" + testToken(t, "a", -time.Minute)},
		{name: "forged token", query: "?token=" + forged},
		{name: "garbage token", query: "?token=not.a.jwt"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+tc.query, nil)
			if conn != nil {
				conn.Close()
			}

			assert.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, 0, cs.Registry().Len(), "expected no registered connections")
		})
	}
}

func Test_serveWs_authenticated(t *testing.T) {
	srv, cs := startTestApp(t, []string{"http://intranet.example"})

	t.Run("token in query", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+testToken(t, "a", time.Hour), nil)
		require.NoError(t, err)
		defer conn.Close()

		assert.Eventually(t, func() bool {
			return cs.Registry().Online("a")
		}, time.Second, 10*time.Millisecond)

		conn.Close()
		assert.Eventually(t, func() bool {
			return !cs.Registry().Online("a")
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("token in header from allowed origin", func(t *testing.T) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+testToken(t, "b", time.Hour))
		header.Set("Origin", "http://intranet.example")

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
		require.NoError(t, err)
		defer conn.Close()

		assert.Eventually(t, func() bool {
			return cs.Registry().Online("b")
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("disallowed origin", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", "http://evil.example")

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+testToken(t, "c", time.Hour), header)
		if conn != nil {
			conn.Close()
		}

		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.False(t, cs.Registry().Online("c"))
	})
}
