package ai

import (
	"errors"
	"fmt"
)

// Kind classifies provider failures by how callers should react to them.
type Kind int

const (
	// KindUnknown is reported for errors that did not originate from a provider.
	KindUnknown Kind = iota
	// KindConfiguration means the provider cannot run at all (missing credentials).
	KindConfiguration
	// KindTransient means the call may succeed later or on another provider.
	KindTransient
	// KindPermanent means the request should not be retried on this provider.
	KindPermanent
	// KindValidation is a business-rule violation on otherwise well-formed output.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the tagged error returned by providers and the chain runner.
type Error struct {
	Kind     Kind
	Provider string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s error: %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, provider string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Configurationf builds a configuration error for the named provider.
func Configurationf(provider, format string, args ...any) error {
	return newError(KindConfiguration, provider, nil, format, args...)
}

// Transientf builds a transient error for the named provider.
func Transientf(provider, format string, args ...any) error {
	return newError(KindTransient, provider, nil, format, args...)
}

// Permanentf builds a permanent error for the named provider.
func Permanentf(provider, format string, args ...any) error {
	return newError(KindPermanent, provider, nil, format, args...)
}

// Validationf builds a validation error. Provider may be empty.
func Validationf(provider, format string, args ...any) error {
	return newError(KindValidation, provider, nil, format, args...)
}

// Wrap tags err with kind unless it already carries one.
func Wrap(kind Kind, provider string, err error, msg string) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	return &Error{Kind: kind, Provider: provider, Msg: msg, Err: err}
}

// KindOf returns the kind of the first tagged error in err's chain.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindUnknown
}

func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }
func IsTransient(err error) bool     { return KindOf(err) == KindTransient }
func IsPermanent(err error) bool     { return KindOf(err) == KindPermanent }
func IsValidation(err error) bool    { return KindOf(err) == KindValidation }
