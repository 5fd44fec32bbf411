package respond

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/webserv/webserv/internal/config"
	"github.com/webserv/webserv/internal/status"
)

// contentTypes is the extension -> Content-Type table from spec section
// 4.4, step 4.
var contentTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
}

const defaultContentType = "application/octet-stream"

func contentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return defaultContentType
}

// hasTraversal rejects URIs containing ".." or "%2e%2e" case-insensitively,
// per spec section 4.4 step 1.
func hasTraversal(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.Contains(lower, "..") || strings.Contains(lower, "%2e%2e")
}

// PhysicalPath computes the effective filesystem path for a URI matched
// to loc under srv, stripping the Location prefix and joining onto the
// effective root (spec section 4.4 step 2).
func PhysicalPath(srv *config.Server, loc *config.Location, prefix, uri string) string {
	root := srv.Root
	if loc != nil {
		root = loc.EffectiveRoot(srv.Root)
	}
	rest := strings.TrimPrefix(uri, prefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return filepath.Join(root, filepath.FromSlash(path.Clean(rest)))
}

// StatFunc and ReadFunc abstract the filesystem so tests (and, per
// spec.md section 1, swappable document roots) don't need a real disk
// layout; production callers pass os.Stat / os.ReadFile.
type StatFunc func(path string) (fs.FileInfo, error)
type ReadFunc func(path string) ([]byte, error)

// BuildGetHead implements spec section 4.4's GET/HEAD algorithm in full,
// including autoindex and traversal rejection. head strips the body
// while preserving Content-Length, per spec step 5.
func BuildGetHead(srv *config.Server, loc *config.Location, prefix, uri string, head bool, stat StatFunc, read ReadFunc, listDir func(dir string) ([]DirEntry, error)) (*Response, error) {
	if hasTraversal(uri) {
		return nil, status.New(status.KindForbidden, nil)
	}

	physPath := PhysicalPath(srv, loc, prefix, uri)

	info, err := stat(physPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, status.New(status.KindNotFound, err)
		}
		return nil, status.New(status.KindInternal, err)
	}

	if info.IsDir() {
		if loc != nil && loc.Autoindex {
			entries, err := listDir(physPath)
			if err != nil {
				return nil, status.New(status.KindInternal, err)
			}
			body := RenderAutoindex(uri, entries)
			resp := NewResponse(200, body)
			resp.SetHeader("Content-Type", "text/html")
			if head {
				resp.DropBody()
			}
			return resp, nil
		}
		if loc != nil && loc.Index != "" {
			indexPath := filepath.Join(physPath, loc.Index)
			if _, err := stat(indexPath); err == nil {
				return serveFile(indexPath, head, read)
			}
		}
		return nil, status.New(status.KindForbidden, nil)
	}

	return serveFile(physPath, head, read)
}

func serveFile(physPath string, head bool, read ReadFunc) (*Response, error) {
	data, err := read(physPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, status.New(status.KindNotFound, err)
		}
		return nil, status.New(status.KindInternal, err)
	}
	resp := NewResponse(200, data)
	resp.SetHeader("Content-Type", contentTypeFor(physPath))
	if head {
		resp.DropBody()
	}
	return resp, nil
}

// BuildDelete implements spec section 4.4's DELETE algorithm: strip
// prefix, resolve under effective root, reject traversal, reject
// directories, attempt unlink, map errno to status.
func BuildDelete(srv *config.Server, loc *config.Location, prefix, uri string, stat StatFunc, remove func(path string) error) (*Response, error) {
	if hasTraversal(uri) {
		return nil, status.New(status.KindForbidden, nil)
	}

	physPath := PhysicalPath(srv, loc, prefix, uri)

	info, err := stat(physPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, status.New(status.KindNotFound, err)
		}
		return nil, status.New(status.KindInternal, err)
	}
	if info.IsDir() {
		return nil, status.New(status.KindForbidden, nil)
	}

	if err := remove(physPath); err != nil {
		return nil, mapUnlinkError(err)
	}
	return NewResponse(204, nil), nil
}

func mapUnlinkError(err error) status.HandlerError {
	if errors.Is(err, fs.ErrPermission) {
		return status.New(status.KindForbidden, err)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return status.New(status.KindNotFound, err)
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EACCES, syscall.EPERM:
			return status.New(status.KindForbidden, err)
		case syscall.ENOENT:
			return status.New(status.KindNotFound, err)
		}
	}
	return status.New(status.KindInternal, err)
}

// OSStat and OSRead are the production StatFunc/ReadFunc backed by the
// real filesystem.
func OSStat(path string) (fs.FileInfo, error) { return os.Stat(path) }
func OSRead(path string) ([]byte, error)      { return os.ReadFile(path) }
func OSRemove(path string) error              { return os.Remove(path) }
