package service

import (
	"errors"
	"fmt"
)

var (
	// ErrUsernameTaken is returned when registering a username that already exists.
	ErrUsernameTaken = errors.New("username taken")
	// ErrLoginFailed covers both an unknown username and a wrong password.
	ErrLoginFailed = errors.New("login failed")
	// ErrCredentialsMissing is returned when ingestion is requested before
	// external credentials were stored.
	ErrCredentialsMissing = errors.New("external credentials missing")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrNotFound           = errors.New("not found")
	ErrUpstreamFetch      = errors.New("upstream fetch failed")
	ErrStore              = errors.New("store error")
)

// InvalidInputError reports a malformed request value.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func invalidInput(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}

// storeErr tags an unexpected repository failure.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
