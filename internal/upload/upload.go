// Package upload interprets a POST request body per its Content-Type,
// per spec section 4.5.
package upload

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/webserv/webserv/internal/status"
)

// Result describes what Handle wrote, so callers can build a response.
type Result struct {
	FilesWritten []string
}

// Handle dispatches body per contentType into uploadDir, per spec section
// 4.5's table. Returns a 415 HandlerError for any Content-Type not in the
// table.
func Handle(contentType string, body []byte, uploadDir string) (Result, error) {
	mediaType, params := splitContentType(contentType)

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		return handleURLEncoded(body, uploadDir)
	case mediaType == "multipart/form-data":
		boundary, ok := params["boundary"]
		if !ok {
			return Result{}, status.New(status.KindProtocolMalformed, fmt.Errorf("upload: multipart/form-data missing boundary"))
		}
		return handleMultipart(body, boundary, uploadDir)
	default:
		return Result{}, status.New(status.KindUnsupportedMediaType, fmt.Errorf("upload: unsupported content-type %q", contentType))
	}
}

// splitContentType parses "type/subtype; k=v; k2=v2" into the bare media
// type (lowercased) and its parameters. Minimal by design: this server's
// Content-Type values are generated by well-behaved clients/browsers, so
// a full RFC 2045 grammar is unnecessary.
func splitContentType(ct string) (string, map[string]string) {
	parts := strings.Split(ct, ";")
	mediaType := strings.ToLower(strings.TrimSpace(parts[0]))
	params := map[string]string{}
	for _, p := range parts[1:] {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		params[key] = val
	}
	return mediaType, params
}

// handleURLEncoded URL-decodes key=value pairs and writes them to a
// single file in uploadDir, per spec section 4.5.
func handleURLEncoded(body []byte, uploadDir string) (Result, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Result{}, status.New(status.KindProtocolMalformed, err)
	}

	var buf bytes.Buffer
	for key, vals := range values {
		for _, v := range vals {
			fmt.Fprintf(&buf, "%s=%s\n", key, v)
		}
	}

	name := uniqueName("form")
	path := filepath.Join(uploadDir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return Result{}, status.New(status.KindInternal, err)
	}
	return Result{FilesWritten: []string{path}}, nil
}

// uniqueName builds a collision-free upload filename using a UUIDv4
// suffix (google/uuid), replacing the pid/time/counter scheme spec
// section 4.5 describes informally with an equivalent, simpler
// uniqueness source. handleMultipart uses the same UUID source per
// part instead of a shared prefix, since each part needs its own name.
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%s.bin", sanitizeName(prefix), uuid.NewString())
}

// sanitizeName rejects path separators and ".." in a filename, replacing
// them with "_", per spec section 4.5.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "upload.bin"
	}
	return name
}
