package upload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/webserv/webserv/internal/status"
)

func TestHandleURLEncoded(t *testing.T) {
	dir := t.TempDir()
	res, err := Handle("application/x-www-form-urlencoded", []byte("name=bob&age=30"), dir)
	require.NoError(t, err)
	require.Len(t, res.FilesWritten, 1)

	data, err := os.ReadFile(res.FilesWritten[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "name=bob")
}

func TestHandleUnsupportedMediaType(t *testing.T) {
	_, err := Handle("application/xml", []byte("<a/>"), t.TempDir())
	he, ok := status.As(err)
	require.True(t, ok)
	require.Equal(t, 415, he.HTTPStatus())
}

func TestHandleMultipart(t *testing.T) {
	dir := t.TempDir()
	body := "--BOUND\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"hello.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"hello world\r\n" +
		"--BOUND\r\n" +
		"Content-Disposition: form-data; name=\"field\"\r\n\r\n" +
		"plainvalue\r\n" +
		"--BOUND--\r\n"

	res, err := Handle(`multipart/form-data; boundary=BOUND`, []byte(body), dir)
	require.NoError(t, err)
	require.Len(t, res.FilesWritten, 1)

	data, err := os.ReadFile(res.FilesWritten[0])
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
	require.Contains(t, filepath.Base(res.FilesWritten[0]), "hello.txt")
}

func TestSanitizeNameRejectsTraversal(t *testing.T) {
	got := sanitizeName("../etc/passwd")
	require.NotContains(t, got, "..")
	require.NotContains(t, got, "/")
}

func TestMultipartMissingBoundaryIsMalformed(t *testing.T) {
	_, err := Handle("multipart/form-data", []byte("x"), t.TempDir())
	he, ok := status.As(err)
	require.True(t, ok)
	require.Equal(t, 400, he.HTTPStatus())
}
