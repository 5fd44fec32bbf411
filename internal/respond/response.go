// Package respond builds response byte strings for GET/HEAD/DELETE,
// redirects, autoindex listings, and canned error responses, per spec
// section 4.4.
package respond

import (
	"bytes"
	"fmt"
	"time"

	"github.com/webserv/webserv/internal/config"
	"github.com/webserv/webserv/internal/status"
)

// ServerName is the Server header value, per spec section 6.
const ServerName = "webserv/0.1"

// Response is a fully-built HTTP response, ready to be serialized into a
// connection's send buffer.
type Response struct {
	Status      int
	HeaderOrder []string // preserves insertion order for deterministic output
	Headers     map[string]string
	Body        []byte
	CloseAfter  bool // always true in this CORE (spec: every response closes)
}

// NewResponse starts a Response with the mandatory headers every response
// carries per spec section 4.4 / section 6: Date, Server, Content-Length,
// Connection: close.
func NewResponse(statusCode int, body []byte) *Response {
	r := &Response{
		Status:     statusCode,
		Headers:    map[string]string{},
		CloseAfter: true,
	}
	r.setHeader("Date", time.Now().UTC().Format(http1Date))
	r.setHeader("Server", ServerName)
	r.SetBody(body)
	r.setHeader("Connection", "close")
	return r
}

const http1Date = "Mon, 02 Jan 2006 15:04:05 GMT"

// SetBody replaces the body and recomputes Content-Length, maintaining
// testable property 4 from spec section 8 ("Content-Length equals the
// body byte length").
func (r *Response) SetBody(body []byte) {
	r.Body = body
	r.setHeader("Content-Length", fmt.Sprintf("%d", len(body)))
}

// DropBody empties the body while preserving Content-Length -- used for
// HEAD responses, which must report the length they would have sent.
func (r *Response) DropBody() {
	r.Body = nil
}

func (r *Response) setHeader(name, value string) {
	if _, exists := r.Headers[name]; !exists {
		r.HeaderOrder = append(r.HeaderOrder, name)
	}
	r.Headers[name] = value
}

// SetHeader sets an additional header, preserving first-insertion order.
func (r *Response) SetHeader(name, value string) {
	r.setHeader(name, value)
}

// Bytes serializes the response into the HTTP/1.1 wire format described
// in spec section 6.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", r.Status, status.Reason(r.Status))
	for _, name := range r.HeaderOrder {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, r.Headers[name])
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	return buf.Bytes()
}

// builtinErrorBody is the fallback HTML used when neither the Location
// nor the ServerConfig defines a custom error page for a status.
func builtinErrorBody(statusCode int) []byte {
	reason := status.Reason(statusCode)
	return []byte(fmt.Sprintf(
		"<html>\n<head><title>%d %s</title></head>\n<body>\n<h1>%d %s</h1>\n</body>\n</html>\n",
		statusCode, reason, statusCode, reason))
}

// BuildError constructs a canned error response for statusCode, trying
// first the Location's own error page, then the ServerConfig's, then the
// built-in default (spec section 4.4, "Error pages").
func BuildError(statusCode int, loc *config.Location, srv *config.Server, readFile func(path string) ([]byte, bool)) *Response {
	if loc != nil {
		if p, ok := loc.ErrorPages[statusCode]; ok {
			if body, ok := readFile(p); ok {
				return NewResponse(statusCode, body)
			}
		}
	}
	if srv != nil {
		if p, ok := srv.ErrorPages[statusCode]; ok {
			if body, ok := readFile(p); ok {
				return NewResponse(statusCode, body)
			}
		}
	}
	return NewResponse(statusCode, builtinErrorBody(statusCode))
}

// FromHandlerError renders a HandlerError (the taxonomy carrier from
// package status) as a canned response, adding Allow for 405s per spec
// section 4.3.
func FromHandlerError(he status.HandlerError, loc *config.Location, srv *config.Server, readFile func(path string) ([]byte, bool)) *Response {
	resp := BuildError(he.HTTPStatus(), loc, srv, readFile)
	if he.Kind == status.KindMethodNotAllowed && len(he.Allow) > 0 {
		allow := ""
		for i, m := range he.Allow {
			if i > 0 {
				allow += ", "
			}
			allow += m
		}
		resp.SetHeader("Allow", allow)
	}
	return resp
}

// BuildRedirect emits the configured status with a Location header and
// empty body, using the first entry of loc.Redirects (spec section 4.4).
// Since Go maps have no iteration order, "first" is resolved here as the
// lowest status code, which makes the choice deterministic across runs
// given the same config (an Open Question spec.md leaves unaddressed for
// the case of multiple `return` statements on one Location).
func BuildRedirect(loc *config.Location) (*Response, bool) {
	if len(loc.Redirects) == 0 {
		return nil, false
	}
	best := -1
	for code := range loc.Redirects {
		if best == -1 || code < best {
			best = code
		}
	}
	resp := NewResponse(best, nil)
	resp.SetHeader("Location", loc.Redirects[best])
	return resp, true
}
