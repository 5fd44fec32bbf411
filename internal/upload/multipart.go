package upload

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/webserv/webserv/internal/status"
)

// handleMultipart splits body on "--<boundary>", separates headers from
// content at the first blank line in each part, and saves each file part
// under uploadDir with a sanitized, uniquified name, per spec section
// 4.5's "Multipart parsing" paragraph.
func handleMultipart(body []byte, boundary string, uploadDir string) (Result, error) {
	delim := []byte("--" + boundary)
	parts := bytes.Split(body, delim)

	var written []string
	for _, raw := range parts {
		raw = trimPartEdges(raw)
		if len(raw) == 0 {
			continue
		}
		// The final boundary is followed by "--"; skip it.
		if bytes.Equal(bytes.TrimSpace(raw), []byte("--")) {
			continue
		}

		headerEnd := bytes.Index(raw, []byte("\r\n\r\n"))
		if headerEnd == -1 {
			continue // malformed part, skip rather than fail the whole request
		}
		headerBlock := raw[:headerEnd]
		content := raw[headerEnd+4:]
		content = bytes.TrimSuffix(content, []byte("\r\n"))

		disposition := findHeader(headerBlock, "Content-Disposition")
		filename, hasFilename := extractFilename(disposition)
		if !hasFilename {
			// Non-file field; spec section 4.5 only requires saving file
			// parts under upload_path, so other fields are accepted but not
			// persisted individually (consistent with the urlencoded path
			// writing a single combined file).
			continue
		}
		if filename == "" {
			filename = "upload.bin"
		}
		filename = sanitizeName(filename)

		finalName := fmt.Sprintf("%s-%s", uuid.NewString(), filename)
		path := filepath.Join(uploadDir, finalName)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return Result{}, status.New(status.KindInternal, err)
		}
		written = append(written, path)
	}

	return Result{FilesWritten: written}, nil
}

func trimPartEdges(raw []byte) []byte {
	raw = bytes.TrimPrefix(raw, []byte("\r\n"))
	return raw
}

func findHeader(block []byte, name string) string {
	lines := strings.Split(string(block), "\r\n")
	lowerName := strings.ToLower(name)
	for _, line := range lines {
		colon := strings.IndexByte(line, ':')
		if colon == -1 {
			continue
		}
		if strings.ToLower(strings.TrimSpace(line[:colon])) == lowerName {
			return strings.TrimSpace(line[colon+1:])
		}
	}
	return ""
}

// extractFilename pulls filename="..." out of a Content-Disposition
// value. ok is false if the part has no filename parameter at all (i.e.
// it is a plain form field, not a file upload).
func extractFilename(disposition string) (name string, ok bool) {
	idx := strings.Index(disposition, "filename=")
	if idx == -1 {
		return "", false
	}
	rest := disposition[idx+len("filename="):]
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, `"`) {
		end := strings.Index(rest[1:], `"`)
		if end == -1 {
			return "upload.bin", true
		}
		return rest[1 : 1+end], true
	}
	// unquoted value, terminated by ';' or end of string
	if semi := strings.IndexByte(rest, ';'); semi != -1 {
		rest = rest[:semi]
	}
	return strings.TrimSpace(rest), true
}
