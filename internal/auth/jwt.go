package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in session tokens. Kiosks get a narrow role that only the
// check-in surface accepts.
const (
	RoleStaff = "staff"
	RoleKiosk = "kiosk"
)

// Claims represents JWT payload.
type Claims struct {
	Subject string `json:"sub"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Issue signs a session token for the subject with the given role.
func Issue(subject, name, role, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := Claims{
		Subject: subject,
		Name:    name,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
