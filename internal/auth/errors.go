package auth

import "fmt"

// Error types reported by SignIn.
const (
	TypeCredentialsSignin  = "CredentialsSignin"
	TypeCallbackRouteError = "CallbackRouteError"
	TypeInvalidProvider    = "InvalidProvider"
)

// Error is a classified authentication failure.
type Error struct {
	Type string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Type, e.Err)
	}
	return "auth " + e.Type
}

func (e *Error) Unwrap() error { return e.Err }
