package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is a signed-in user.
type Session struct {
	UserID    string
	Email     string
	Name      string
	Token     string
	ExpiresAt time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Sessions mints and verifies HS256 session tokens.
type Sessions struct {
	Secret string
	TTL    time.Duration
	Now    func() time.Time
}

func (s Sessions) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Sessions) Issue(userID, email, name string) (Session, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return Session{}, errors.New("jwt secret not configured")
	}
	now := s.now()
	exp := now.Add(s.TTL)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: email,
		Name:  name,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: userID, Email: email, Name: name, Token: token, ExpiresAt: exp}, nil
}

func (s Sessions) Verify(token string) (Session, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return Session{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	claims := &sessionClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil {
		return Session{}, err
	}
	if !parsed.Valid {
		return Session{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Session{}, errors.New("subject claim required")
	}
	return Session{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
