package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
)

var testKey = []byte("test-signing-key")

func TestVerifier_Verify(t *testing.T) {
	valid, err := NewToken(testKey, Identity{UserId: "u1", Username: "alice"}, time.Hour)
	assert.NoError(t, err)

	expired, err := NewToken(testKey, Identity{UserId: "u1", Username: "alice"}, -time.Hour)
	assert.NoError(t, err)

	otherKey, err := NewToken([]byte("other-key"), Identity{UserId: "u1"}, time.Hour)
	assert.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		expClaim: time.Now().Add(time.Hour).Unix(),
	}).SignedString(testKey)
	assert.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: "u1",
	}).SignedString(testKey)
	assert.NoError(t, err)

	numericUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: 42,
		expClaim:    time.Now().Add(time.Hour).Unix(),
	}).SignedString(testKey)
	assert.NoError(t, err)

	tcases := []struct {
		name     string
		token    string
		expected Identity
		err      error
	}{
		{
			name:     "valid token",
			token:    valid,
			expected: Identity{UserId: "u1", Username: "alice"},
		},
		{
			name:  "missing token",
			token: "",
			err:   ErrMissingToken,
		},
		{
			name:  "expired token",
			token: expired,
			err:   ErrInvalidToken,
		},
		{
			name:  "wrong signing key",
			token: otherKey,
			err:   ErrInvalidToken,
		},
		{
			name:  "malformed token",
			token: "not-a-jwt",
			err:   ErrInvalidToken,
		},
		{
			name:  "missing user id claim",
			token: noUser,
			err:   ErrInvalidToken,
		},
		{
			name:  "missing exp claim",
			token: noExp,
			err:   ErrInvalidToken,
		},
		{
			name:  "non string user id claim",
			token: numericUser,
			err:   ErrInvalidToken,
		},
	}

	v := NewVerifier(testKey)
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := v.Verify(tc.token)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Equal(t, Identity{}, id)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, id)
		})
	}
}

func TestVerifier_RejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		userIdClaim: "u1",
		expClaim:    time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	assert.NoError(t, err)

	_, err = NewVerifier(testKey).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	tcases := []struct {
		name     string
		setup    func(r *http.Request)
		target   string
		expected string
	}{
		{
			name:     "no credential",
			target:   "/ws",
			expected: "",
		},
		{
			name:     "bearer header",
			target:   "/ws",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			expected: "abc",
		},
		{
			name:     "non bearer header is ignored",
			target:   "/ws",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
			expected: "",
		},
		{
			name:     "query parameter",
			target:   "/ws?token=from-query",
			expected: "from-query",
		},
		{
			name:   "cookie",
			target: "/ws",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: TokenCookieKey, Value: "from-cookie"})
			},
			expected: "from-cookie",
		},
		{
			name:   "header wins over query and cookie",
			target: "/ws?token=from-query",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer from-header")
				r.AddCookie(&http.Cookie{Name: TokenCookieKey, Value: "from-cookie"})
			},
			expected: "from-header",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.setup != nil {
				tc.setup(r)
			}
			assert.Equal(t, tc.expected, TokenFromRequest(r))
		})
	}
}
