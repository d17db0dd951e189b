package rpc

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	governanceScope = "gov"
	scopeClaim      = "scope"
	jwtClockSkew    = 2 * time.Minute
)

// authenticator guards the mutating methods. A request passes with either the
// static bearer token or an HMAC signed JWT carrying the gov scope.
type authenticator struct {
	token  []byte
	secret []byte
	issuer string
}

func newAuthenticator(token, secret, issuer string) *authenticator {
	return &authenticator{
		token:  []byte(strings.TrimSpace(token)),
		secret: []byte(strings.TrimSpace(secret)),
		issuer: strings.TrimSpace(issuer),
	}
}

func (a *authenticator) authorize(r *http.Request) *RPCError {
	if len(a.token) == 0 && len(a.secret) == 0 {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if len(a.token) > 0 && subtle.ConstantTimeCompare([]byte(token), a.token) == 1 {
		return nil
	}
	if len(a.secret) == 0 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	claims, err := a.parseToken(token)
	if err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	if a.issuer != "" {
		if iss, ok := claims["iss"].(string); !ok || iss != a.issuer {
			return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
		}
	}
	if !hasScope(claims, governanceScope) {
		return &RPCError{Code: codeUnauthorized, Message: "insufficient scope", Data: governanceScope}
	}
	return nil
}

func (a *authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(jwtClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

// hasScope accepts both the space separated string form and a JSON array.
func hasScope(claims jwt.MapClaims, want string) bool {
	switch v := claims[scopeClaim].(type) {
	case string:
		for _, s := range strings.Fields(v) {
			if s == want {
				return true
			}
		}
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}
