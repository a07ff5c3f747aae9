package engine

import (
	"context"
	"errors"
	"net/url"

	"invoicer/internal/auth"
)

const (
	MsgInvalidCredentials   = "Invalid credentials."
	MsgSomethingWentWrong   = "Something went wrong."
	credentialsProviderName = auth.ProviderCredentials
)

// Authenticate signs the form in with the credentials provider. A
// classified auth failure becomes a user-facing message; any other error is
// returned unchanged for the caller's generic handler.
func (e Engine) Authenticate(ctx context.Context, form url.Values) (auth.Session, string, error) {
	ctx, span := e.start(ctx, "engine.Authenticate")
	defer span.End()

	sess, err := e.Auth.SignIn(ctx, credentialsProviderName, form)
	if err == nil {
		return sess, "", nil
	}
	var authErr *auth.Error
	if !errors.As(err, &authErr) {
		span.RecordError(err)
		return auth.Session{}, "", err
	}
	switch authErr.Type {
	case auth.TypeCredentialsSignin:
		e.log().Info("sign-in rejected", "email", form.Get("email"))
		return auth.Session{}, MsgInvalidCredentials, nil
	default:
		e.log().Warn("sign-in failed", "type", authErr.Type, "error", authErr)
		return auth.Session{}, MsgSomethingWentWrong, nil
	}
}
