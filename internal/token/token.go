package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/npezzotti/go-chatsync/internal/types"
)

const DefaultValidity = time.Hour * 24

type AuthErrorKind int

const (
	// AuthMissing means no token was presented at all.
	AuthMissing AuthErrorKind = iota
	// AuthInvalid covers signature failures, garbage tokens and expiry.
	AuthInvalid
	// AuthMalformed means the token verified but lacks a usable identity.
	AuthMalformed
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthMissing:
		return "missing"
	case AuthInvalid:
		return "invalid"
	case AuthMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s token: %s", e.Kind, e.Err.Error())
	}
	return fmt.Sprintf("%s token", e.Kind)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

type sessionClaims struct {
	UserId      int    `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	jwt.RegisteredClaims
}

// Codec issues and verifies the signed identity tokens used by both the
// HTTP layer and the realtime handshake.
type Codec struct {
	signingKey []byte
	validity   time.Duration
}

func NewCodec(signingKey []byte) *Codec {
	return &Codec{
		signingKey: signingKey,
		validity:   DefaultValidity,
	}
}

func (c *Codec) Issue(identity types.User) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		UserId:      identity.Id,
		DisplayName: identity.DisplayName,
		Email:       identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.validity)),
		},
	})

	return t.SignedString(c.signingKey)
}

// Verify checks tokenString and returns the identity it carries. Failures
// are always *AuthError.
func (c *Codec) Verify(tokenString string) (types.User, error) {
	if tokenString == "" {
		return types.User{}, &AuthError{Kind: AuthMissing}
	}

	var claims sessionClaims
	t, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return c.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return types.User{}, &AuthError{Kind: AuthInvalid, Err: err}
	}

	if !t.Valid {
		return types.User{}, &AuthError{Kind: AuthInvalid, Err: errors.New("token not valid")}
	}

	if claims.UserId <= 0 {
		return types.User{}, &AuthError{Kind: AuthMalformed, Err: errors.New("token has no user id")}
	}

	return types.User{
		Id:          claims.UserId,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
	}, nil
}
