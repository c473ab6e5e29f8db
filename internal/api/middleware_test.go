package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/npezzotti/go-chatsync/internal/token"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, db database.ChatRepository) (*ChatApp, *httptest.Server) {
	logger := testutil.TestLogger(t)

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(3)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	cs, err := server.NewChatServer(logger, db, su)
	require.NoError(t, err)
	go cs.Run()

	cfg, err := config.NewConfig(
		"localhost:0",
		"postgres://localhost/chatsync_test",
		base64.StdEncoding.EncodeToString([]byte("test-signing-key")),
		[]string{"http://localhost:3000"},
	)
	require.NoError(t, err)

	app := NewChatApp(http.NewServeMux(), logger, cs, db, token.NewCodec(cfg.SigningKey), cfg)
	srv := httptest.NewServer(app.mux.Handler)

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, cs.Shutdown(ctx))
	})

	return app, srv
}

func issueToken(t *testing.T, app *ChatApp, u types.User) string {
	tok, err := app.codec.Issue(u)
	require.NoError(t, err)
	return tok
}

func TestBearerToken(t *testing.T) {
	t.Run("authorization header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
		r.Header.Set("Authorization", "Bearer abc123")
		assert.Equal(t, "abc123", bearerToken(r))
	})

	t.Run("query parameter fallback", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?token=qrs789", nil)
		assert.Equal(t, "qrs789", bearerToken(r))
	})

	t.Run("header wins over query parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?token=qrs789", nil)
		r.Header.Set("Authorization", "Bearer abc123")
		assert.Equal(t, "abc123", bearerToken(r))
	})

	t.Run("no token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
		assert.Empty(t, bearerToken(r))
	})
}

func TestAuthMiddleware(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetAccountById", 1).
		Return(database.User{Id: 1, DisplayName: "alice", Email: "alice@example.com"}, nil)

	app, srv := newTestApp(t, db)
	identity := types.User{Id: 1, DisplayName: "alice", Email: "alice@example.com"}

	t.Run("valid token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/auth/session", nil)
		req.Header.Set("Authorization", "Bearer "+issueToken(t, app, identity))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")
	})

	t.Run("token via query parameter", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/auth/session?token=" + issueToken(t, app, identity))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("missing token", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/auth/session")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("garbage token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/auth/session", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
