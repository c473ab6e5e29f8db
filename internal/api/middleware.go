package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/types"
)

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, identity types.User) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func Identity(ctx context.Context) (types.User, bool) {
	identity, ok := ctx.Value(identityKey).(types.User)
	return identity, ok
}

// bearerToken pulls the token from the Authorization header, falling back to
// the token query parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}

	return r.URL.Query().Get("token")
}

func (s *ChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *ChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.codec.Verify(bearerToken(r))
		if err != nil {
			s.log.Printf("token verification failed: %v", err)
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithIdentity(r.Context(), identity)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}
