package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusBadRequest, KindInvalidURL.HTTPStatus())
	require.Equal(t, http.StatusBadGateway, KindRemoteBlocked.HTTPStatus())
	for _, k := range []Kind{KindEmptyResponse, KindMalformedPayload, KindTimeout, KindUnknown} {
		require.Equal(t, http.StatusInternalServerError, k.HTTPStatus(), k)
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, Kind(""), KindOf(nil))
	require.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	require.Equal(t, KindTimeout, KindOf(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))

	wrapped := fmt.Errorf("listing: %w", &Error{Kind: KindRemoteBlocked, Message: "blocked"})
	require.Equal(t, KindRemoteBlocked, KindOf(wrapped))
	e, ok := AsError(wrapped)
	require.True(t, ok)
	require.Equal(t, "blocked", e.Message)
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	cause := errors.New("net::ERR_TIMED_OUT")
	err := &Error{Kind: KindTimeout, Message: "page fetch timed out", Page: 2, Err: cause}
	require.Equal(t, "timeout: page fetch timed out (page 2): net::ERR_TIMED_OUT", err.Error())
	require.True(t, errors.Is(err, cause))
	require.Equal(t, "invalid_url: url is required", (&Error{Kind: KindInvalidURL, Message: "url is required"}).Error())
}

func TestNewRequestClampsPages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int
		want int
	}{
		{in: 0, want: 3},
		{in: -4, want: 3},
		{in: 1, want: 1},
		{in: 5, want: 5},
		{in: 20, want: 20},
		{in: 99, want: 20},
	}
	for _, tt := range tests {
		req := NewRequest(SourceListing, "u", tt.in, 0, 0)
		require.Equal(t, tt.want, req.PageLimit, "pages=%d", tt.in)
	}

	require.Equal(t, 2, NewRequest(SourceListing, "u", 0, 2, 4).PageLimit)
	require.Equal(t, 4, NewRequest(SourceListing, "u", 7, 2, 4).PageLimit)
	require.Zero(t, NewRequest(SourceThread, "u", 7, 2, 4).PageLimit)
}

func TestParseSourceType(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]SourceType{
		"thread":  SourceThread,
		"Reddit":  SourceThread,
		"listing": SourceListing,
		"amazon":  SourceListing,
		"reviews": SourceListing,
	} {
		got, err := ParseSourceType(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseSourceType("forum")
	require.Error(t, err)
}

func TestAnnotate(t *testing.T) {
	t.Parallel()

	err := annotate(errors.New("boom"), "https://x", 3)
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, KindUnknown, e.Kind)
	require.Equal(t, "https://x", e.URL)
	require.Equal(t, 3, e.Page)

	orig := &Error{Kind: KindTimeout, URL: "https://y", Page: 1}
	require.Same(t, orig, annotate(orig, "https://x", 3))
	require.Equal(t, "https://y", orig.URL)
	require.Equal(t, 1, orig.Page)
}
