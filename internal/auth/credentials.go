package auth

import (
	"context"
	"errors"
	"net/mail"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"invoicer/internal/domain"
	"invoicer/internal/repo"
)

const ProviderCredentials = "credentials"

const minPasswordLen = 6

// UserStore looks users up by email.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
}

// Credentials checks an email/password form against stored bcrypt hashes.
type Credentials struct {
	Users UserStore
}

// Authorize returns the matching user. A malformed form or a wrong
// password is reported as CredentialsSignin; lookup failures as
// CallbackRouteError.
func (c Credentials) Authorize(ctx context.Context, form url.Values) (domain.User, error) {
	email := strings.TrimSpace(form.Get("email"))
	password := form.Get("password")
	if _, err := mail.ParseAddress(email); err != nil || len(password) < minPasswordLen {
		return domain.User{}, &Error{Type: TypeCredentialsSignin}
	}
	user, err := c.Users.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, &Error{Type: TypeCredentialsSignin}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.User{}, ctxErr
		}
		return domain.User{}, &Error{Type: TypeCallbackRouteError, Err: err}
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return domain.User{}, &Error{Type: TypeCredentialsSignin}
	}
	return user, nil
}

// HashPassword returns a bcrypt hash suitable for domain.User.PasswordHash.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", errors.New("password must be at least 6 characters")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
