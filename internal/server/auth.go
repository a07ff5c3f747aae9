package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"invoicer/internal/auth"
	"invoicer/internal/events"
)

const defaultLoginRedirect = "/dashboard"

type sessionKey struct{}

func withSession(ctx context.Context, s auth.Session) context.Context {
	ctx = context.WithValue(ctx, sessionKey{}, s)
	return events.WithActor(ctx, s.UserID)
}

func sessionFromContext(ctx context.Context) (auth.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(auth.Session)
	return s, ok
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newSessionMiddleware guards the dashboard routes. A session is read from
// the Authorization header first, then from the session cookie.
func newSessionMiddleware(basePath string, cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !isDashboardPath(basePath, req.URL.Path) {
				next.ServeHTTP(w, req)
				return
			}
			token := ""
			if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
				t, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				token = t
			} else if c, err := req.Cookie(cfg.cookieName()); err == nil {
				token = c.Value
			}
			if token == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			sess, err := cfg.Sessions.Verify(token)
			if err != nil {
				cfg.logger().Debug("session rejected", "path", req.URL.Path, "error", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withSession(req.Context(), sess)))
		})
	}
}

func sessionCookie(name string, s auth.Session) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    s.Token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// safeRedirect only follows local absolute paths.
func safeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return defaultLoginRedirect
	}
	return target
}

func registerLogin(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID:   "login",
		Method:        http.MethodPost,
		Path:          "/login",
		Summary:       "Sign in with email and password",
		Description:   "Accepts email, password and an optional redirectTo. Failures answer 401 with the message as a JSON string.",
		DefaultStatus: http.StatusSeeOther,
		Errors:        []int{http.StatusUnauthorized, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*huma.StreamResponse, error) {
		form, err := formFromContext(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		sess, msg, err := e.Authenticate(ctx, form)
		if err != nil {
			cfg.logger().Error("login failed", "error", err)
			return nil, handleError(err)
		}
		if msg != "" {
			return &huma.StreamResponse{Body: func(hctx huma.Context) {
				body, _ := json.Marshal(msg)
				hctx.SetHeader("Content-Type", "application/json")
				hctx.SetStatus(http.StatusUnauthorized)
				hctx.BodyWriter().Write(body)
			}}, nil
		}
		target := safeRedirect(form.Get("redirectTo"))
		if target == defaultLoginRedirect {
			target = path.Join("/", cfg.BasePath, defaultLoginRedirect)
		}
		cookie := sessionCookie(cfg.cookieName(), sess)
		return &huma.StreamResponse{Body: func(hctx huma.Context) {
			hctx.SetHeader("Set-Cookie", cookie.String())
			hctx.SetHeader("Location", target)
			hctx.SetStatus(http.StatusSeeOther)
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/logout",
		Summary:       "Clear the session cookie",
		DefaultStatus: http.StatusSeeOther,
	}, func(ctx context.Context, _ *struct{}) (*huma.StreamResponse, error) {
		cookie := &http.Cookie{
			Name:     cfg.cookieName(),
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}
		target := path.Join("/", cfg.BasePath, "login")
		return &huma.StreamResponse{Body: func(hctx huma.Context) {
			hctx.SetHeader("Set-Cookie", cookie.String())
			hctx.SetHeader("Location", target)
			hctx.SetStatus(http.StatusSeeOther)
		}}, nil
	})
}
