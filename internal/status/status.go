// Package status centralizes the HTTP status table and the single error
// taxonomy used throughout webserv, so that every handler that fails
// reports its failure the same way instead of growing its own ad-hoc
// status/body mapping.
package status

import (
	"errors"
	"fmt"
)

// Kind classifies an internal failure the way spec section 7 does. A Kind
// always maps to exactly one HTTP status via statusOf.
type Kind int

const (
	// KindNone indicates success; it never appears on a HandlerError.
	KindNone Kind = iota
	KindProtocolMalformed
	KindMethodNotAllowed
	KindNotImplemented
	KindNotFound
	KindForbidden
	KindUnsupportedMediaType
	KindPayloadTooLarge
	KindLengthRequired
	KindCgiFailure
	KindCgiTimeout
	KindInternal
)

// statusOf maps each Kind to its HTTP status code.
var statusOf = map[Kind]int{
	KindProtocolMalformed:    400,
	KindMethodNotAllowed:     405,
	KindNotImplemented:       501,
	KindNotFound:             404,
	KindForbidden:            403,
	KindUnsupportedMediaType: 415,
	KindPayloadTooLarge:      413,
	KindLengthRequired:       411,
	KindCgiFailure:           500,
	KindCgiTimeout:           504,
	KindInternal:             500,
}

// reasonPhrases is the single status -> reason phrase table referenced by
// spec section 9's design note ("centralize a single status -> reason
// phrase mapping").
var reasonPhrases = map[int]string{
	200: "OK",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	411: "Length Required",
	413: "Payload Too Large",
	415: "Unsupported Media Type",
	500: "Internal Server Error",
	501: "Not Implemented",
	504: "Gateway Timeout",
}

// Reason returns the reason phrase for code, or "Unknown" if code is not
// in the table.
func Reason(code int) string {
	if r, ok := reasonPhrases[code]; ok {
		return r
	}
	return "Unknown"
}

// HandlerError is the one carrier type for a taxonomy failure, the Go
// analog of the teacher's modules/caddyhttp/errors.go HandlerError. It
// wraps the original cause and records which Kind (and therefore status)
// applies.
type HandlerError struct {
	Kind   Kind
	Status int // overrides statusOf[Kind] when non-zero (e.g. custom Allow 405 bodies still use 405)
	Err    error
	Allow  []string // populated only for KindMethodNotAllowed
}

// Error satisfies the error interface.
func (e HandlerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("webserv: %s", Reason(e.HTTPStatus()))
	}
	return fmt.Sprintf("webserv: %s: %v", Reason(e.HTTPStatus()), e.Err)
}

// Unwrap allows errors.As/errors.Is to see through to the cause.
func (e HandlerError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code this error should surface as.
func (e HandlerError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	if s, ok := statusOf[e.Kind]; ok {
		return s
	}
	return 500
}

// New constructs a HandlerError for kind, wrapping err (which may be nil).
func New(kind Kind, err error) HandlerError {
	return HandlerError{Kind: kind, Err: err}
}

// NewMethodNotAllowed constructs the 405 variant, which additionally
// carries the Allow header value.
func NewMethodNotAllowed(allow []string) HandlerError {
	return HandlerError{Kind: KindMethodNotAllowed, Allow: allow}
}

// As reports whether err is (or wraps) a HandlerError, the way callers
// that only have a generic error should inspect failures raised deep in
// the response/upload/cgi packages.
func As(err error) (HandlerError, bool) {
	var he HandlerError
	ok := errors.As(err, &he)
	return he, ok
}
