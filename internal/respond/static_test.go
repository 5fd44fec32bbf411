package respond

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/webserv/webserv/internal/config"
	"github.com/webserv/webserv/internal/status"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestBuildGetHeadServesIndex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.html", "hi\n")

	srv := &config.Server{Root: dir}
	loc := &config.Location{Index: "index.html"}

	resp, err := BuildGetHead(srv, loc, "/", "/", false, OSStat, OSRead, ListDirOS)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, "3", resp.Headers["Content-Length"])
	require.Equal(t, "hi\n", string(resp.Body))
}

func TestBuildGetHeadTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	srv := &config.Server{Root: dir}
	loc := &config.Location{}

	_, err := BuildGetHead(srv, loc, "/", "/../etc/passwd", false, OSStat, OSRead, ListDirOS)
	he, ok := status.As(err)
	require.True(t, ok)
	require.Equal(t, 403, he.HTTPStatus())
}

func TestBuildGetHeadNotFound(t *testing.T) {
	dir := t.TempDir()
	srv := &config.Server{Root: dir}
	loc := &config.Location{}

	_, err := BuildGetHead(srv, loc, "/", "/nope.txt", false, OSStat, OSRead, ListDirOS)
	he, ok := status.As(err)
	require.True(t, ok)
	require.Equal(t, 404, he.HTTPStatus())
}

func TestBuildGetHeadHeadOmitsBody(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")
	srv := &config.Server{Root: dir}
	loc := &config.Location{}

	resp, err := BuildGetHead(srv, loc, "/", "/a.txt", true, OSStat, OSRead, ListDirOS)
	require.NoError(t, err)
	require.Empty(t, resp.Body)
	require.Equal(t, "5", resp.Headers["Content-Length"])
}

func TestBuildGetHeadDirectoryForbiddenWithoutAutoindexOrIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	srv := &config.Server{Root: dir}
	loc := &config.Location{}

	_, err := BuildGetHead(srv, loc, "/", "/sub", false, OSStat, OSRead, ListDirOS)
	he, ok := status.As(err)
	require.True(t, ok)
	require.Equal(t, 403, he.HTTPStatus())
}

func TestBuildGetHeadAutoindex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "sub"), "a.txt", "x")
	srv := &config.Server{Root: dir}
	loc := &config.Location{Autoindex: true}

	resp, err := BuildGetHead(srv, loc, "/", "/sub", false, OSStat, OSRead, ListDirOS)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Contains(t, string(resp.Body), "a.txt")
}

func TestBuildDeleteSuccess(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.txt", "data")
	srv := &config.Server{Root: dir}
	loc := &config.Location{}

	resp, err := BuildDelete(srv, loc, "/u/", "/u/x.txt", OSStat, OSRemove)
	require.NoError(t, err)
	require.Equal(t, 204, resp.Status)
	require.Equal(t, "0", resp.Headers["Content-Length"])

	_, statErr := os.Stat(filepath.Join(dir, "x.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func TestBuildDeleteNotFound(t *testing.T) {
	dir := t.TempDir()
	srv := &config.Server{Root: dir}
	loc := &config.Location{}

	_, err := BuildDelete(srv, loc, "/u/", "/u/missing.txt", OSStat, OSRemove)
	he, ok := status.As(err)
	require.True(t, ok)
	require.Equal(t, 404, he.HTTPStatus())
}

func TestBuildDeleteDirectoryForbidden(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	srv := &config.Server{Root: dir}
	loc := &config.Location{}

	_, err := BuildDelete(srv, loc, "/", "/sub", OSStat, OSRemove)
	he, ok := status.As(err)
	require.True(t, ok)
	require.Equal(t, 403, he.HTTPStatus())
}

func TestResponseContentLengthInvariant(t *testing.T) {
	resp := NewResponse(200, []byte("abcde"))
	require.Equal(t, "5", resp.Headers["Content-Length"])
}

func TestBuildErrorFallsBackToBuiltin(t *testing.T) {
	resp := BuildError(404, nil, nil, func(string) ([]byte, bool) { return nil, false })
	require.Equal(t, 404, resp.Status)
	require.Contains(t, string(resp.Body), "404")
}
