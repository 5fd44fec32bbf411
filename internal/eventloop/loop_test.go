package eventloop

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webserv/webserv/internal/config"
)

// freePort asks the kernel for an unused TCP port by briefly binding to
// port 0 and releasing it. webserv's own config grammar requires a
// fixed, non-zero port (spec section 3's invariant), so tests that need
// an ephemeral port pick one this way rather than asking the loop to
// bind ":0" itself.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// startTestLoop writes confText (already formatted by the caller with the
// port and document root) to a temp config file, boots a real Loop
// against it, and runs it in the background until the test ends.
// Returns the address to dial on port.
func startTestLoop(t *testing.T, confText string, port int) string {
	t.Helper()
	confPath := filepath.Join(t.TempDir(), "webserv.conf")
	require.NoError(t, os.WriteFile(confPath, []byte(confText), 0o644))

	log := zap.NewNop()
	source, err := config.NewSource(confPath, log)
	require.NoError(t, err)

	loop := New(source, log, nil, nil)
	require.NoError(t, loop.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return fmt.Sprintf("127.0.0.1:%d", port)
}

// sendRequest dials addr, writes raw, and returns everything the server
// sends back up to connection close (this project never keeps a
// connection open past one response, so reading to EOF is always safe).
func sendRequest(t *testing.T, addr string, raw string) string {
	t.Helper()
	var conn net.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(3*time.Second)))
	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(out)
}

// TestStaticGET exercises spec section 8 scenario 1 end to end: a real
// listening socket, a real client connection driven entirely through the
// event loop's poll/dispatch path, and a real file read off disk.
func TestStaticGET(t *testing.T) {
	www := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(www, "index.html"), []byte("hi\n"), 0o644))

	port := freePort(t)
	conf := fmt.Sprintf(`
server {
	listen %d;
	host 127.0.0.1;
	root %s;
	location / {
		index index.html;
		method GET HEAD;
	}
}
`, port, www)
	addr := startTestLoop(t, conf, port)

	resp := sendRequest(t, addr, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Contains(t, resp, "HTTP/1.1 200 OK")
	require.Contains(t, resp, "Content-Length: 3")
	require.True(t, strings.HasSuffix(resp, "hi\n"))
}

// TestTraversalRejected exercises spec section 8 scenario 2.
func TestTraversalRejected(t *testing.T) {
	www := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(www, "index.html"), []byte("hi\n"), 0o644))

	port := freePort(t)
	conf := fmt.Sprintf(`
server {
	listen %d;
	host 127.0.0.1;
	root %s;
	location / {
		index index.html;
		method GET HEAD;
	}
}
`, port, www)
	addr := startTestLoop(t, conf, port)

	resp := sendRequest(t, addr, "GET /../etc/passwd HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Contains(t, resp, "HTTP/1.1 403 Forbidden")
}

// TestDeleteSuccess exercises spec section 8 scenario 3.
func TestDeleteSuccess(t *testing.T) {
	www := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(www, "x.txt"), []byte("bye"), 0o644))

	port := freePort(t)
	conf := fmt.Sprintf(`
server {
	listen %d;
	host 127.0.0.1;
	root %s;
	location /u/ {
		method DELETE;
	}
}
`, port, www)
	addr := startTestLoop(t, conf, port)

	resp := sendRequest(t, addr, "DELETE /u/x.txt HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Contains(t, resp, "HTTP/1.1 204 No Content")
	require.Contains(t, resp, "Content-Length: 0")

	_, statErr := os.Stat(filepath.Join(www, "x.txt"))
	require.True(t, os.IsNotExist(statErr))
}

// TestBodyTooLarge exercises spec section 8 scenario 4.
func TestBodyTooLarge(t *testing.T) {
	www := t.TempDir()
	up := t.TempDir()

	port := freePort(t)
	conf := fmt.Sprintf(`
server {
	listen %d;
	host 127.0.0.1;
	root %s;
	location /up/ {
		upload_path %s;
		max_body_size 10;
		method POST;
	}
}
`, port, www, up)
	addr := startTestLoop(t, conf, port)

	resp := sendRequest(t, addr, "POST /up/ HTTP/1.1\r\nHost: x\r\nContent-Length: 11\r\n\r\nAAAAAAAAAAA")
	require.Contains(t, resp, "HTTP/1.1 413 Payload Too Large")
}

// TestMethodNotAllowedIncludesAllowHeader exercises spec section 4.3's
// 405 path end to end.
func TestMethodNotAllowedIncludesAllowHeader(t *testing.T) {
	www := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(www, "index.html"), []byte("hi\n"), 0o644))

	port := freePort(t)
	conf := fmt.Sprintf(`
server {
	listen %d;
	host 127.0.0.1;
	root %s;
	location / {
		index index.html;
		method GET;
	}
}
`, port, www)
	addr := startTestLoop(t, conf, port)

	resp := sendRequest(t, addr, "DELETE / HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Contains(t, resp, "HTTP/1.1 405 Method Not Allowed")
	require.Contains(t, resp, "Allow: GET")
}
