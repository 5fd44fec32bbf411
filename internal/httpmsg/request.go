// Package httpmsg implements the stateless, idempotent byte-buffer
// request parser described in spec section 4.2. It answers exactly two
// questions for the event loop: "is a full request present in this
// buffer?" and "parse it into a structured Request".
package httpmsg

import (
	"bytes"
	"strconv"
	"strings"
)

// Request is the parsed value produced by Parse. Method is empty on
// malformed input -- the sentinel the caller treats as 400 (spec
// section 4.2).
type Request struct {
	Method     string
	URI        string
	Version    string
	Headers    map[string]string // case-insensitive: keys are lowercased
	Body       []byte
	ParsedLen  int // bytes Parse consumed from the input buffer
}

// Header looks up a header by case-insensitive name.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.Headers[strings.ToLower(name)]
	return v, ok
}

const maxJunkLine = 8 * 1024 // 8 KiB, per spec section 4.2's "is_complete" junk heuristic

// IsComplete reports whether a full request (request line + headers +
// terminator + full body per Content-Length or dechunked) is present in
// buf. It also returns true for "obviously non-HTTP" junk so the loop
// can emit a 400 and advance, exactly per spec section 4.2.
func IsComplete(buf []byte) bool {
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd == -1 {
		// No blank line yet. Is this "obviously non-HTTP junk"?
		if looksLikeJunk(buf) {
			return true
		}
		return false
	}

	requestLine, headerBlock := splitRequestLine(buf[:headerEnd])
	method, _, _, ok := parseRequestLine(requestLine)
	if !ok {
		return true // malformed request line is junk too; let Parse surface 400
	}

	headers := parseHeaders(headerBlock)
	bodyStart := headerEnd + 4

	if te, ok := headers["transfer-encoding"]; ok && strings.EqualFold(te, "chunked") {
		_, complete := dechunk(buf[bodyStart:])
		return complete
	}

	if cl, ok := headers["content-length"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return true // malformed Content-Length; let Parse surface 400
		}
		have := len(buf) - bodyStart
		if have < n {
			return false // declared larger than received: not yet complete
		}
		return true
	}

	if method == "POST" {
		// No Content-Length, no chunked: malformed (-> 411), but the
		// headers are fully present, so it is "complete" from the
		// parser's point of view; Parse will flag the 411 condition.
		return true
	}

	return true
}

// looksLikeJunk implements spec section 4.2's completeness heuristic for
// data that will never become a valid request: contains a bare LF, or is
// short with no space, or exceeds 8 KiB without ever finding a blank line.
func looksLikeJunk(buf []byte) bool {
	for i, b := range buf {
		if b == '\n' && (i == 0 || buf[i-1] != '\r') {
			return true
		}
	}
	if len(buf) < 4 && !bytes.ContainsRune(buf, ' ') {
		return true
	}
	if len(buf) > maxJunkLine {
		return true
	}
	return false
}

func splitRequestLine(headPortion []byte) (requestLine []byte, rest []byte) {
	idx := bytes.Index(headPortion, []byte("\r\n"))
	if idx == -1 {
		return headPortion, nil
	}
	return headPortion[:idx], headPortion[idx+2:]
}

func parseRequestLine(line []byte) (method, uri, version string, ok bool) {
	parts := strings.Split(string(line), " ")
	if len(parts) != 3 {
		return "", "", "", false
	}
	version = parts[2]
	if version != "HTTP/1.0" && version != "HTTP/1.1" {
		return "", "", "", false
	}
	return parts[0], parts[1], version, true
}

// parseHeaders parses "Name: value\r\n..." lines into a lowercased map.
// A line without ':' is ignored (header folding / continuation lines are
// not supported, per spec section 4.2).
func parseHeaders(block []byte) map[string]string {
	headers := make(map[string]string)
	if len(block) == 0 {
		return headers
	}
	lines := strings.Split(string(block), "\r\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon == -1 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:colon]))
		value := strings.TrimSpace(line[colon+1:])
		headers[name] = value
	}
	return headers
}

// Parse parses buf into a Request. On malformed input, Method is set to
// "" as a sentinel and the caller should treat the request as 400 (spec
// section 4.2). ParsedLen tells the loop exactly how many bytes to
// remove from the receive buffer.
func Parse(buf []byte) Request {
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd == -1 {
		return Request{}
	}
	requestLine, headerBlock := splitRequestLine(buf[:headerEnd])
	method, uri, version, ok := parseRequestLine(requestLine)
	if !ok {
		return Request{}
	}
	headers := parseHeaders(headerBlock)
	bodyStart := headerEnd + 4

	if te, chunked := headers["transfer-encoding"]; chunked && strings.EqualFold(te, "chunked") {
		body, complete, consumed := dechunkWithLen(buf[bodyStart:])
		if !complete {
			return Request{}
		}
		return Request{
			Method:    method,
			URI:       uri,
			Version:   version,
			Headers:   headers,
			Body:      body,
			ParsedLen: bodyStart + consumed,
		}
	}

	if cl, ok := headers["content-length"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return Request{} // malformed
		}
		if len(buf)-bodyStart < n {
			return Request{} // not actually complete; caller should have checked IsComplete first
		}
		if len(buf)-bodyStart > n {
			// Bodies declared smaller than received -> malformed (spec 4.2 edge case).
			return Request{}
		}
		body := buf[bodyStart : bodyStart+n]
		return Request{
			Method:    method,
			URI:       uri,
			Version:   version,
			Headers:   headers,
			Body:      body,
			ParsedLen: bodyStart + n,
		}
	}

	if method == "POST" {
		// spec 3: POST with neither Content-Length nor chunked Transfer-Encoding is malformed (-> 411).
		return Request{Method: method, URI: uri, Version: version, Headers: headers, ParsedLen: bodyStart}
	}

	return Request{
		Method:    method,
		URI:       uri,
		Version:   version,
		Headers:   headers,
		ParsedLen: bodyStart,
	}
}

// PeekDeclaredLength inspects buf's header block, if one has fully
// arrived, and reports the URI and declared Content-Length -- without
// requiring the body itself to be present yet. The event loop uses this
// to bound recv_buffer against a matched Location's max_body_size as
// soon as that Location is knowable (spec section 3: "recv_buffer ...
// bounded by the effective max body size of the matched Location once
// known"), well before IsComplete/Parse can see a fully-buffered body.
func PeekDeclaredLength(buf []byte) (uri string, contentLength int64, hasContentLength bool, headersComplete bool) {
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd == -1 {
		return "", 0, false, false
	}
	requestLine, headerBlock := splitRequestLine(buf[:headerEnd])
	_, parsedURI, _, ok := parseRequestLine(requestLine)
	if !ok {
		return "", 0, false, true
	}
	headers := parseHeaders(headerBlock)
	cl, ok := headers["content-length"]
	if !ok {
		return parsedURI, 0, false, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(cl))
	if err != nil || n < 0 {
		return parsedURI, 0, false, true
	}
	return parsedURI, int64(n), true, true
}

// NeedsLengthRequired reports whether req is a POST with no way to know
// its body length -- the 411 case from spec sections 3 and 7. Distinct
// from Method=="" (400) because callers must tell the two apart.
func NeedsLengthRequired(req Request) bool {
	if req.Method != "POST" {
		return false
	}
	_, hasCL := req.Header("content-length")
	te, hasTE := req.Header("transfer-encoding")
	if hasTE && strings.EqualFold(te, "chunked") {
		return false
	}
	return !hasCL
}
