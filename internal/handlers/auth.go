// internal/handlers/auth.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userCtxKey = contextKey("user")

var errNoUser = errors.New("no authenticated user")

// Auth validates HS256 bearer tokens whose subject is the numeric user id.
type Auth struct {
	secret []byte
}

// NewAuth returns an Auth using secret.
func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// Sign issues a token for userID, used by tests and tooling.
func (a *Auth) Sign(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(a.secret)
}

// Parse returns the user id carried by tokenStr.
func (a *Auth) Parse(tokenStr string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, errors.New("invalid token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errors.New("invalid subject")
	}
	return id, nil
}

// Require rejects requests without a valid token. Browsers cannot set
// headers on websocket upgrades, so a token query parameter is accepted too.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerOrQuery(r)
		if tokenStr == "" {
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		uid, err := a.Parse(tokenStr)
		if err != nil {
			http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userCtxKey, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerOrQuery(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func currentUser(r *http.Request) (int64, error) {
	uid, ok := r.Context().Value(userCtxKey).(int64)
	if !ok {
		return 0, errNoUser
	}
	return uid, nil
}
