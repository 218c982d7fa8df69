package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim   = "user-id"
	usernameClaim = "username"
	expClaim      = "exp"

	TokenCookieKey = "token"
	tokenQueryKey  = "token"
)

var (
	ErrMissingToken = errors.New("authentication required")
	ErrInvalidToken = errors.New("invalid or expired token")
)

type Identity struct {
	UserId   string
	Username string
}

type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// Verifier validates HS256 tokens issued by the intranet auth service.
type Verifier struct {
	signingKey []byte
}

func NewVerifier(signingKey []byte) *Verifier {
	return &Verifier{signingKey: signingKey}
}

func (v *Verifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	if _, ok := claims[expClaim]; !ok {
		return Identity{}, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}

	userId, _ := claims[userIdClaim].(string)
	if userId == "" {
		return Identity{}, fmt.Errorf("%w: invalid user id claim", ErrInvalidToken)
	}

	username, _ := claims[usernameClaim].(string)

	return Identity{UserId: userId, Username: username}, nil
}

// NewToken signs a token for id. Tokens are normally issued by the auth
// service; this is used by tooling and tests.
func NewToken(signingKey []byte, id Identity, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:   id.UserId,
		usernameClaim: id.Username,
		expClaim:      time.Now().Add(exp).Unix(),
	})

	return token.SignedString(signingKey)
}

// TokenFromRequest extracts the bearer credential from the handshake, looking
// at the Authorization header, then the token query parameter, then the
// token cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	if token := r.URL.Query().Get(tokenQueryKey); token != "" {
		return token
	}

	if c, err := r.Cookie(TokenCookieKey); err == nil {
		return c.Value
	}

	return ""
}
