package auth

import (
	"context"
	"fmt"
	"net/url"

	"invoicer/internal/domain"
)

// Provider verifies one kind of sign-in form.
type Provider interface {
	Authorize(ctx context.Context, form url.Values) (domain.User, error)
}

// Service signs users in through named providers and issues sessions.
type Service struct {
	Providers map[string]Provider
	Sessions  Sessions
}

func (s Service) SignIn(ctx context.Context, provider string, form url.Values) (Session, error) {
	p, ok := s.Providers[provider]
	if !ok {
		return Session{}, &Error{Type: TypeInvalidProvider, Err: fmt.Errorf("provider %q not configured", provider)}
	}
	user, err := p.Authorize(ctx, form)
	if err != nil {
		return Session{}, err
	}
	return s.Sessions.Issue(user.ID, user.Email, user.Name)
}
