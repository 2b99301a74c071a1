package jwkclient

import (
	"errors"
	"fmt"
)

// Kind classifies why a validation or refresh failed.
type Kind int

const (
	// KindTransport means the key-set document could not be fetched.
	KindTransport Kind = iota + 1
	// KindKeyFormat means the document was fetched but it, or one of its keys, is malformed.
	KindKeyFormat
	// KindMissingKeyID means the token header carries no kid.
	KindMissingKeyID
	// KindUnknownOrInactiveKey means the kid is not cached or not yet active.
	KindUnknownOrInactiveKey
	// KindVerification covers signature, issuer, audience, algorithm, expiry and structural failures.
	KindVerification
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindKeyFormat:
		return "key_format"
	case KindMissingKeyID:
		return "missing_kid"
	case KindUnknownOrInactiveKey:
		return "unknown_or_inactive_kid"
	case KindVerification:
		return "verification"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrTransport            = errors.New("jwkclient: could not fetch key set")
	ErrKeyFormat            = errors.New("jwkclient: malformed key set")
	ErrMissingKeyID         = errors.New("jwkclient: token is missing key id `kid`")
	ErrUnknownOrInactiveKey = errors.New("jwkclient: token key id `kid` not found or not yet active")
	ErrVerification         = errors.New("jwkclient: token verification failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindKeyFormat:
		return ErrKeyFormat
	case KindMissingKeyID:
		return ErrMissingKeyID
	case KindUnknownOrInactiveKey:
		return ErrUnknownOrInactiveKey
	case KindVerification:
		return ErrVerification
	}
	return nil
}

// Error is the single typed error returned by Validate and Refresh.
type Error struct {
	Kind  Kind
	KeyID string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.KeyID != "" {
		msg = fmt.Sprintf("%s (kid %q)", msg, e.KeyID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, kid string, err error) *Error {
	return &Error{Kind: kind, KeyID: kid, Err: err}
}

// asFetchError keeps an *Error from a fetcher as is and treats anything else as transport.
func asFetchError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(KindTransport, "", err)
}
