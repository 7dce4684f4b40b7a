package udisks

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Error names the daemon uses when the user backed out of an operation
const (
	ErrorNotAuthorizedDismissed = "org.freedesktop.UDisks2.Error.NotAuthorizedDismissed"
	ErrorCancelled              = "org.freedesktop.UDisks2.Error.Cancelled"
)

// Error is a failed manager method call
type Error struct {
	Method  string
	Name    string
	Message string
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %s", e.Method, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Method, e.Message, e.Name)
}

// IsDismissed reports whether err is an authorization dialog the user
// dismissed or an operation the user cancelled. Those are never shown.
func IsDismissed(err error) bool {
	var uErr *Error
	if !errors.As(err, &uErr) {
		return false
	}
	return uErr.Name == ErrorNotAuthorizedDismissed || uErr.Name == ErrorCancelled
}

// wrapError converts a D-Bus error reply into *Error
func wrapError(method string, err error) error {
	if err == nil {
		return nil
	}

	var dErr dbus.Error
	if errors.As(err, &dErr) {
		return &Error{Method: method, Name: dErr.Name, Message: errorMessage(dErr)}
	}
	var pErr *dbus.Error
	if errors.As(err, &pErr) && pErr != nil {
		return &Error{Method: method, Name: pErr.Name, Message: errorMessage(*pErr)}
	}
	return &Error{Method: method, Message: err.Error()}
}

func errorMessage(e dbus.Error) string {
	if len(e.Body) > 0 {
		if s, ok := e.Body[0].(string); ok {
			return s
		}
	}
	return e.Name
}
