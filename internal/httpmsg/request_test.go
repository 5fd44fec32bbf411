package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsCompleteSimpleGet(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	require.True(t, IsComplete(buf))
}

func TestIsCompleteWaitsForBody(t *testing.T) {
	buf := []byte("POST / HTTP/1.1\r\nContent-Length: 11\r\n\r\nAAAAA")
	require.False(t, IsComplete(buf))
}

func TestIsCompleteBodyFullyReceived(t *testing.T) {
	buf := []byte("POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nAAAAA")
	require.True(t, IsComplete(buf))
}

func TestParseGet(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	req := Parse(buf)
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/", req.URI)
	require.Equal(t, "HTTP/1.1", req.Version)
	require.Equal(t, len(buf), req.ParsedLen)
	v, ok := req.Header("host")
	require.True(t, ok)
	require.Equal(t, "x", v)
}

func TestParsePostWithBody(t *testing.T) {
	buf := []byte("POST / HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc")
	req := Parse(buf)
	require.Equal(t, "POST", req.Method)
	require.Equal(t, []byte("abc"), req.Body)
	require.Equal(t, len(buf), req.ParsedLen)
}

func TestParsePostWithoutLengthIsLengthRequired(t *testing.T) {
	buf := []byte("POST / HTTP/1.1\r\n\r\n")
	req := Parse(buf)
	require.Equal(t, "POST", req.Method)
	require.True(t, NeedsLengthRequired(req))
}

func TestParsePostZeroContentLength(t *testing.T) {
	buf := []byte("POST / HTTP/1.1\r\nContent-Length: 0\r\n\r\n")
	req := Parse(buf)
	require.Equal(t, "POST", req.Method)
	require.Empty(t, req.Body)
	require.False(t, NeedsLengthRequired(req))
}

func TestParseInvalidVersionIsMalformed(t *testing.T) {
	buf := []byte("GET / HTTP/2.0\r\n\r\n")
	req := Parse(buf)
	require.Empty(t, req.Method)
}

func TestParseFoldedHeaderLineIgnored(t *testing.T) {
	// a continuation line (leading whitespace, no ':') is simply ignored,
	// not merged into the previous header -- folding is unsupported.
	buf := []byte("GET / HTTP/1.1\r\nX-Foo: bar\r\n baz\r\n\r\n")
	req := Parse(buf)
	v, ok := req.Header("x-foo")
	require.True(t, ok)
	require.Equal(t, "bar", v)
}

func TestChunkedRoundTrip(t *testing.T) {
	data := []byte("hello world, this is a chunked body")
	encoded := ChunkEncode(data)
	decoded, err := Dechunk(encoded)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestChunkedTakesPrecedenceOverContentLength(t *testing.T) {
	buf := []byte("POST / HTTP/1.1\r\nContent-Length: 999\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n")
	req := Parse(buf)
	require.Equal(t, []byte("hello"), req.Body)
}

func TestChunkedMissingTerminatorIsIncomplete(t *testing.T) {
	buf := []byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n")
	require.False(t, IsComplete(buf))
}

func TestIsCompleteJunkWithBareLF(t *testing.T) {
	buf := []byte("not an http request\n")
	require.True(t, IsComplete(buf))
}
