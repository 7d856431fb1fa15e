package api

import (
	"crypto/subtle"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// tokenTTL is how long a token issued by POST /auth/login remains valid.
const tokenTTL = 12 * time.Hour

// claims is the JWT payload issued to an authenticated admin caller.
// Subject carries the configured admin username; there is only ever one
// admin principal, so no role claim is needed (contrast with the
// multi-role AuthContext in the example corpus's hexagonal API).
type claims struct {
	jwt.RegisteredClaims
}

// issueToken signs a short-lived HS256 token for subject, used by the
// /auth/login handler.
func issueToken(secret []byte, subject string) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(secret)
}

// parseToken validates an HS256 token against secret, rejecting any other
// signing method (algorithm confusion) and any token missing exp.
func parseToken(secret []byte, tokenString string) (*claims, error) {
	c := &claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.ParseWithClaims(tokenString, c, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, err
	}
	return c, nil
}

// checkBasicCredentials compares user/pass against the single configured
// admin principal using a constant-time comparison on the username and a
// bcrypt comparison on the password, so failure timing leaks neither.
func checkBasicCredentials(wantUser, wantPasswordHash, gotUser, gotPass string) bool {
	if wantPasswordHash == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(wantUser), []byte(gotUser)) != 1 {
		// Still run the bcrypt comparison against the real hash so a
		// wrong username doesn't return faster than a wrong password.
		_ = bcrypt.CompareHashAndPassword([]byte(wantPasswordHash), []byte(gotPass))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(wantPasswordHash), []byte(gotPass)) == nil
}
