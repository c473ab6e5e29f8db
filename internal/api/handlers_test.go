package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func doJson(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJson[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("Ping").Return(nil).Once()

		_, srv := newTestApp(t, db)
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, decodeJson[map[string]bool](t, resp)["ok"])
	})

	t.Run("store unreachable", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("Ping").Return(errors.New("connection refused")).Once()

		_, srv := newTestApp(t, db)
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.False(t, decodeJson[map[string]bool](t, resp)["ok"])
	})
}

func TestGetMessages(t *testing.T) {
	identity := types.User{Id: 1, DisplayName: "alice"}

	t.Run("returns room history oldest first", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		db.On("GetMessages", "general", 50).Return([]database.Message{
			{Id: 1, Room: "general", SenderId: 2, SenderName: "bob", SenderEmail: "bob@example.com", Content: "first", CreatedAt: createdAt},
			{Id: 2, Room: "general", SenderId: 1, SenderName: "alice", Content: "second", CreatedAt: createdAt.Add(time.Minute)},
		}, nil).Once()

		app, srv := newTestApp(t, db)
		resp := doJson(t, http.MethodGet, srv.URL+"/api/messages?room=general", issueToken(t, app, identity), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		messages := decodeJson[[]types.Message](t, resp)
		require.Len(t, messages, 2)
		assert.Equal(t, 1, messages[0].Id)
		assert.Equal(t, "bob", messages[0].Sender.DisplayName)
		assert.Equal(t, "bob@example.com", messages[0].Sender.Email)
		assert.Equal(t, 2, messages[1].Id)
	})

	t.Run("missing room", func(t *testing.T) {
		app, srv := newTestApp(t, &database.MockChatRepository{})
		resp := doJson(t, http.MethodGet, srv.URL+"/api/messages", issueToken(t, app, identity), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid room falls back to default", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessages", "general", 50).Return([]database.Message{}, nil).Once()

		app, srv := newTestApp(t, db)
		resp := doJson(t, http.MethodGet, srv.URL+"/api/messages?room=no+spaces%21", issueToken(t, app, identity), nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("limit is clamped", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessages", "general", 200).Return([]database.Message{}, nil).Once()
		db.On("GetMessages", "general", 1).Return([]database.Message{}, nil).Once()

		app, srv := newTestApp(t, db)
		tok := issueToken(t, app, identity)

		resp := doJson(t, http.MethodGet, srv.URL+"/api/messages?room=general&limit=1000", tok, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp = doJson(t, http.MethodGet, srv.URL+"/api/messages?room=general&limit=0", tok, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("non-numeric limit", func(t *testing.T) {
		app, srv := newTestApp(t, &database.MockChatRepository{})
		resp := doJson(t, http.MethodGet, srv.URL+"/api/messages?room=general&limit=lots", issueToken(t, app, identity), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("store failure", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessages", "general", 50).Return([]database.Message(nil), errors.New("connection refused")).Once()

		app, srv := newTestApp(t, db)
		resp := doJson(t, http.MethodGet, srv.URL+"/api/messages?room=general", issueToken(t, app, identity), nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("requires auth", func(t *testing.T) {
		_, srv := newTestApp(t, &database.MockChatRepository{})
		resp := doJson(t, http.MethodGet, srv.URL+"/api/messages?room=general", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestCreateAccount(t *testing.T) {
	t.Run("creates account and issues token", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateAccount", mock.MatchedBy(func(p database.CreateAccountParams) bool {
			return p.Email == "alice@example.com" && p.DisplayName == "alice" && p.PasswordHash != ""
		})).Return(database.User{Id: 1, Email: "alice@example.com", DisplayName: "alice"}, nil).Once()

		app, srv := newTestApp(t, db)
		resp := doJson(t, http.MethodPost, srv.URL+"/api/auth/register", "", RegisterRequest{
			Email:       " Alice@Example.com ",
			DisplayName: "alice",
			Password:    "secret",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		session := decodeJson[SessionResponse](t, resp)
		assert.Equal(t, 1, session.User.Id)

		identity, err := app.codec.Verify(session.Token)
		require.NoError(t, err)
		assert.Equal(t, session.User, identity)
	})

	t.Run("duplicate email", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateAccount", mock.Anything).
			Return(database.User{}, &pq.Error{Code: pqUniqueViolation}).Once()

		_, srv := newTestApp(t, db)
		resp := doJson(t, http.MethodPost, srv.URL+"/api/auth/register", "", RegisterRequest{
			Email:    "alice@example.com",
			Password: "secret",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "email already exists", decodeJson[ApiError](t, resp).Message)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, srv := newTestApp(t, &database.MockChatRepository{})
		resp := doJson(t, http.MethodPost, srv.URL+"/api/auth/register", "", RegisterRequest{Email: "a@b.c"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestLogin(t *testing.T) {
	hash, err := hashPassword("secret")
	require.NoError(t, err)
	account := database.User{Id: 1, Email: "alice@example.com", DisplayName: "alice", PasswordHash: hash}

	t.Run("valid credentials", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountByEmail", "alice@example.com").Return(account, nil).Once()

		app, srv := newTestApp(t, db)
		resp := doJson(t, http.MethodPost, srv.URL+"/api/auth/login", "", LoginRequest{
			Email:    "Alice@Example.com",
			Password: "secret",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		session := decodeJson[SessionResponse](t, resp)
		identity, err := app.codec.Verify(session.Token)
		require.NoError(t, err)
		assert.Equal(t, 1, identity.Id)
	})

	t.Run("wrong password", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountByEmail", "alice@example.com").Return(account, nil).Once()

		_, srv := newTestApp(t, db)
		resp := doJson(t, http.MethodPost, srv.URL+"/api/auth/login", "", LoginRequest{
			Email:    "alice@example.com",
			Password: "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown account", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountByEmail", "nobody@example.com").Return(database.User{}, sql.ErrNoRows).Once()

		_, srv := newTestApp(t, db)
		resp := doJson(t, http.MethodPost, srv.URL+"/api/auth/login", "", LoginRequest{
			Email:    "nobody@example.com",
			Password: "secret",
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestSessionEndpoint(t *testing.T) {
	identity := types.User{Id: 1, DisplayName: "alice", Email: "alice@example.com"}

	t.Run("returns stored profile", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		// display name changed since the token was issued
		db.On("GetAccountById", 1).
			Return(database.User{Id: 1, DisplayName: "alice2", Email: "alice@example.com"}, nil).Once()

		app, srv := newTestApp(t, db)
		resp := doJson(t, http.MethodGet, srv.URL+"/api/auth/session", issueToken(t, app, identity), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		got := decodeJson[types.User](t, resp)
		assert.Equal(t, 1, got.Id)
		assert.Equal(t, "alice2", got.DisplayName)
	})

	t.Run("deleted account", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", 1).Return(database.User{}, sql.ErrNoRows).Once()

		app, srv := newTestApp(t, db)
		resp := doJson(t, http.MethodGet, srv.URL+"/api/auth/session", issueToken(t, app, identity), nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
