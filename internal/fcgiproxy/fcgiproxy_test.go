package fcgiproxy

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeResponder drains whatever the client writes (begin/params/stdin
// records) and then answers with one stdout record carrying a CGI-style
// header block + body, followed by an end-request record, mimicking a
// minimal PHP-FPM-style FastCGI application server.
func fakeResponder(t *testing.T, server net.Conn, out []byte) {
	t.Helper()
	go func() {
		defer server.Close()

		var hdrBuf [headerLen]byte
		for {
			if _, err := readFull(server, hdrBuf[:]); err != nil {
				return
			}
			contentLen := int(hdrBuf[4])<<8 | int(hdrBuf[5])
			padLen := int(hdrBuf[6])
			recType := hdrBuf[1]
			if contentLen > 0 {
				buf := make([]byte, contentLen)
				if _, err := readFull(server, buf); err != nil {
					return
				}
			}
			if padLen > 0 {
				buf := make([]byte, padLen)
				if _, err := readFull(server, buf); err != nil {
					return
				}
			}
			if recType == typeStdin && contentLen == 0 {
				break
			}
		}

		require.NoError(t, writeRecord(server, typeStdout, 1, out))
		require.NoError(t, writeRecord(server, typeEndRequest, 1, make([]byte, 8)))
	}()
}

// TestDoAssemblesResponseFromResponder runs Do against a real TCP
// listener acting as the FastCGI application server, exercising the
// whole begin/params/stdin write path and the stdout/end-request read
// path in one round trip.
func TestDoAssemblesResponseFromResponder(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		server, err := ln.Accept()
		if err != nil {
			return
		}
		fakeResponder(t, server, []byte("Content-Type: text/plain\r\n\r\nhello bob"))
	}()

	resp, err := Do(context.Background(), "tcp", ln.Addr().String(), map[string]string{
		"REQUEST_METHOD": "GET",
	}, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, "hello bob", string(resp.Body))
	require.Equal(t, "text/plain", resp.Headers["Content-Type"])
}

func TestDoFailsOnDialError(t *testing.T) {
	_, err := Do(context.Background(), "tcp", "127.0.0.1:1", nil, nil, time.Second)
	require.Error(t, err)
}

func TestEncodePairShortAndLongLengths(t *testing.T) {
	var buf bytes.Buffer
	encodePair(&buf, "SHORT", "v")
	require.Equal(t, []byte{5, 1, 'S', 'H', 'O', 'R', 'T', 'v'}, buf.Bytes())

	buf.Reset()
	longVal := bytes.Repeat([]byte("x"), 200)
	encodePair(&buf, "k", string(longVal))
	require.Equal(t, byte(1), buf.Bytes()[0]) // key length 1, fits in one byte
	// value length 200 >= 128, so it's encoded as 4 bytes with the top bit set
	require.Equal(t, byte(0x80), buf.Bytes()[1]&0x80)
}
