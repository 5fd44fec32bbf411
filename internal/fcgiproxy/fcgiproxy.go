// Package fcgiproxy implements a minimal FastCGI client, the alternative
// CGI backend a Location selects with fastcgi_pass instead of spawning a
// local interpreter with cgi_path. The wire format mirrors the
// begin/params/stdin/end-request framing used by PHP-FPM and other
// FastCGI application servers.
package fcgiproxy

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/webserv/webserv/internal/cgi"
	"github.com/webserv/webserv/internal/respond"
	"github.com/webserv/webserv/internal/status"
)

const (
	version1 = 1

	typeBeginRequest = 1
	typeEndRequest   = 3
	typeParams       = 4
	typeStdin        = 5
	typeStdout       = 6
	typeStderr       = 7

	roleResponder = 1

	headerLen = 8
)

// DialTimeout bounds connection setup to the FastCGI application server.
const DialTimeout = 2 * time.Second

type header struct {
	Version       uint8
	Type          uint8
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

// Do opens network, addr (e.g. "tcp"/"127.0.0.1:9000" or "unix"/"/run/php-fpm.sock"),
// sends params and body as one FastCGI request with request ID 1, and
// assembles the application's stdout stream into an HTTP response via
// the same header-parsing rules CGI output uses (spec section 4.7).
// deadline is the caller's wall-clock budget (mirrors the CGI timeout).
func Do(ctx context.Context, network, addr string, params map[string]string, body []byte, deadline time.Duration) (*respond.Response, error) {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, network, addr)
	if err != nil {
		return nil, status.New(status.KindCgiFailure, fmt.Errorf("fcgiproxy: dial %s %s: %w", network, addr, err))
	}
	defer conn.Close()

	if deadline > 0 {
		conn.SetDeadline(time.Now().Add(deadline))
	}

	const reqID = 1
	if err := writeBeginRequest(conn, reqID); err != nil {
		return nil, status.New(status.KindCgiFailure, err)
	}
	if err := writeParams(conn, reqID, params); err != nil {
		return nil, status.New(status.KindCgiFailure, err)
	}
	if err := writeStdin(conn, reqID, body); err != nil {
		return nil, status.New(status.KindCgiFailure, err)
	}

	out, stderrOut, err := readResponse(conn, reqID)
	if err != nil {
		if isTimeoutErr(err) {
			return cgi.TimeoutResponse(), nil
		}
		return nil, status.New(status.KindCgiFailure, err)
	}
	if len(out) == 0 && len(stderrOut) > 0 {
		return nil, status.New(status.KindCgiFailure, fmt.Errorf("fcgiproxy: application wrote only stderr: %s", stderrOut))
	}
	return cgi.AssembleResponse(out), nil
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

func writeRecord(w net.Conn, recType uint8, reqID uint16, content []byte) error {
	contentLen := len(content)
	padLen := (8 - (contentLen % 8)) % 8

	h := header{
		Version:       version1,
		Type:          recType,
		RequestID:     reqID,
		ContentLength: uint16(contentLen),
		PaddingLength: uint8(padLen),
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, h); err != nil {
		return err
	}
	buf.Write(content)
	if padLen > 0 {
		buf.Write(make([]byte, padLen))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func writeBeginRequest(w net.Conn, reqID uint16) error {
	body := [8]byte{byte(roleResponder >> 8), byte(roleResponder), 0 /* keep-alive flag: 0, close after response */}
	return writeRecord(w, typeBeginRequest, reqID, body[:])
}

func encodePair(buf *bytes.Buffer, k, v string) {
	writeSize := func(n int) {
		if n < 128 {
			buf.WriteByte(byte(n))
			return
		}
		binary.Write(buf, binary.BigEndian, uint32(n)|(1<<31))
	}
	writeSize(len(k))
	writeSize(len(v))
	buf.WriteString(k)
	buf.WriteString(v)
}

func writeParams(w net.Conn, reqID uint16, params map[string]string) error {
	var buf bytes.Buffer
	for k, v := range params {
		encodePair(&buf, k, v)
	}
	if err := writeRecord(w, typeParams, reqID, buf.Bytes()); err != nil {
		return err
	}
	return writeRecord(w, typeParams, reqID, nil) // empty FCGI_PARAMS terminates the stream
}

func writeStdin(w net.Conn, reqID uint16, body []byte) error {
	const maxChunk = 65500
	for len(body) > 0 {
		n := len(body)
		if n > maxChunk {
			n = maxChunk
		}
		if err := writeRecord(w, typeStdin, reqID, body[:n]); err != nil {
			return err
		}
		body = body[n:]
	}
	return writeRecord(w, typeStdin, reqID, nil)
}

func readResponse(r net.Conn, reqID uint16) (stdout, stderr []byte, err error) {
	var hdrBuf [headerLen]byte
	for {
		if _, err := readFull(r, hdrBuf[:]); err != nil {
			return nil, nil, fmt.Errorf("fcgiproxy: reading header: %w", err)
		}
		h := header{
			Version:       hdrBuf[0],
			Type:          hdrBuf[1],
			RequestID:     uint16(hdrBuf[2])<<8 | uint16(hdrBuf[3]),
			ContentLength: uint16(hdrBuf[4])<<8 | uint16(hdrBuf[5]),
			PaddingLength: hdrBuf[6],
		}
		content := make([]byte, h.ContentLength)
		if h.ContentLength > 0 {
			if _, err := readFull(r, content); err != nil {
				return nil, nil, fmt.Errorf("fcgiproxy: reading content: %w", err)
			}
		}
		if h.PaddingLength > 0 {
			pad := make([]byte, h.PaddingLength)
			if _, err := readFull(r, pad); err != nil {
				return nil, nil, fmt.Errorf("fcgiproxy: reading padding: %w", err)
			}
		}

		switch h.Type {
		case typeStdout:
			stdout = append(stdout, content...)
		case typeStderr:
			stderr = append(stderr, content...)
		case typeEndRequest:
			return stdout, stderr, nil
		}
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
