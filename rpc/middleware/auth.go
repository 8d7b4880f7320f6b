package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

// Authenticator verifies HS256 bearer tokens. A nil Authenticator accepts
// every request.
type Authenticator struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret []byte, issuer string) *Authenticator {
	if len(secret) == 0 {
		return nil
	}
	return &Authenticator{secret: secret, issuer: strings.TrimSpace(issuer), leeway: 30 * time.Second, now: time.Now}
}

// Verify checks the Authorization header value and returns the token
// subject, which may be empty.
func (a *Authenticator) Verify(header string) (string, error) {
	if a == nil {
		return "", nil
	}
	raw := strings.TrimSpace(header)
	if !strings.HasPrefix(raw, "Bearer ") {
		return "", ErrMissingBearer
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if tokenString == "" {
		return "", ErrMissingBearer
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", errors.Join(ErrInvalidToken, err)
	}
	subject, _ := claims.GetSubject()
	return strings.TrimSpace(subject), nil
}
