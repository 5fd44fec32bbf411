package cgi

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/webserv/webserv/internal/respond"
)

// AssembleResponse turns a finished child's raw CGI output into an HTTP
// response, per spec section 4.7: split the CGI header block from the
// body at the first blank line, honor a "Status:" header if present,
// default Content-Type to text/html, and always recompute Content-Length
// and force Connection: close.
func AssembleResponse(output []byte) *respond.Response {
	headerBlock, body := splitCGIOutput(output)

	statusCode := 200
	headers := parseCGIHeaders(headerBlock)
	if sv, ok := headers["status"]; ok {
		if code, ok := parseStatusHeader(sv); ok {
			statusCode = code
		}
		delete(headers, "status")
	}

	// NewResponse/SetBody already computed the authoritative Content-Length
	// from the actual body bytes; a script's own declared value must never
	// override it (spec section 4.7 step 4).
	delete(headers, "content-length")
	// Likewise every response closes, so a script's own Connection header
	// is dropped rather than replacing "close".
	delete(headers, "connection")

	resp := respond.NewResponse(statusCode, body)
	if _, ok := headers["content-type"]; !ok {
		resp.SetHeader("Content-Type", "text/html")
	}
	for name, value := range headers {
		resp.SetHeader(canonicalHeaderName(name), value)
	}
	return resp
}

// splitCGIOutput locates the first CRLFCRLF or LFLF (some CGI scripts
// emit bare LF) to separate the header block from the body. A script
// that emits no header block at all is treated as an all-body response.
func splitCGIOutput(output []byte) (headerBlock, body []byte) {
	if idx := bytes.Index(output, []byte("\r\n\r\n")); idx != -1 {
		return output[:idx], output[idx+4:]
	}
	if idx := bytes.Index(output, []byte("\n\n")); idx != -1 {
		return output[:idx], output[idx+2:]
	}
	return nil, output
}

func parseCGIHeaders(block []byte) map[string]string {
	headers := map[string]string{}
	if len(block) == 0 {
		return headers
	}
	lines := strings.Split(strings.ReplaceAll(string(block), "\r\n", "\n"), "\n")
	for _, line := range lines {
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

// parseStatusHeader accepts either "200 OK" or a bare "200".
func parseStatusHeader(v string) (int, bool) {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0, false
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return code, true
}

// canonicalHeaderName restores conventional capitalization for the
// handful of headers CGI scripts commonly emit; anything else is title
// cased per word.
func canonicalHeaderName(lower string) string {
	switch lower {
	case "content-type":
		return "Content-Type"
	case "location":
		return "Location"
	case "content-length":
		return "Content-Length"
	}
	parts := strings.Split(lower, "-")
	for i, p := range parts {
		if len(p) > 0 {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

// TimeoutResponse is the canned 504 for a CGI process killed after
// exceeding its deadline, per spec section 4.6.
func TimeoutResponse() *respond.Response {
	resp := respond.NewResponse(504, []byte(
		"<html>\n<head><title>504 Gateway Timeout</title></head>\n<body>\n<h1>504 Gateway Timeout</h1>\n</body>\n</html>\n"))
	resp.SetHeader("Content-Type", "text/html")
	return resp
}
