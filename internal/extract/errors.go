package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// Kind classifies extraction failures.
type Kind string

// Failure kinds surfaced to callers.
const (
	KindInvalidURL       Kind = "invalid_url"
	KindRemoteBlocked    Kind = "remote_blocked"
	KindEmptyResponse    Kind = "empty_response"
	KindMalformedPayload Kind = "malformed_payload"
	KindTimeout          Kind = "timeout"
	KindUnknown          Kind = "unknown_failure"
)

// Preview bounds. Error payloads never carry the full body.
const (
	DefaultPreviewLimit = 1000
	MinPreviewLimit     = 500
)

// HTTPStatus maps a kind onto the response status used by the API.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidURL:
		return http.StatusBadRequest
	case KindRemoteBlocked:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured failure of one extraction.
type Error struct {
	Kind       Kind
	Message    string
	URL        string
	Page       int
	HTTPStatus int
	Preview    string
	ParseError string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Page > 0 {
		msg = fmt.Sprintf("%s (page %d)", msg, e.Page)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies any error. Unknown errors map to KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Preview returns at most limit characters (runes) of s.
func Preview(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// NormalizePreviewLimit keeps a configured preview limit within [500, 1000].
func NormalizePreviewLimit(limit int) int {
	if limit <= 0 {
		return DefaultPreviewLimit
	}
	return clamp(limit, MinPreviewLimit, DefaultPreviewLimit)
}
