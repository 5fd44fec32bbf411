// Package eventloop implements the single-threaded readiness dispatcher
// described in spec section 4.1: one pass over listening sockets, client
// connections, and CGI pipes per iteration, with a bounded wait and a
// timeout sweep.
package eventloop

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/webserv/webserv/internal/accesslog"
	"github.com/webserv/webserv/internal/cgi"
	"github.com/webserv/webserv/internal/config"
	"github.com/webserv/webserv/internal/conn"
	"github.com/webserv/webserv/internal/fcgiproxy"
	"github.com/webserv/webserv/internal/httpmsg"
	"github.com/webserv/webserv/internal/metrics"
	"github.com/webserv/webserv/internal/respond"
	"github.com/webserv/webserv/internal/router"
	"github.com/webserv/webserv/internal/status"
	"github.com/webserv/webserv/internal/upload"
)

// sliceMS is the bounded poll wait, per spec section 4.1 step 2.
const sliceMS = 100

// cgiExtensions is the registered-as-CGI extension table spec section 4.6
// names informally ("ends in an extension registered as CGI").
var cgiExtensions = map[string]bool{
	".php": true,
	".py":  true,
	".pl":  true,
	".rb":  true,
	".cgi": true,
}

type listener struct {
	fd     int
	server *config.Server
}

type fcgiResult struct {
	clientFD int
	resp     *respond.Response
	err      error
}

// Loop is the Go analog of spec section 3's "the event loop" -- the sole
// owner of every descriptor and every CgiProcess record.
type Loop struct {
	source *config.Source
	log    *zap.Logger

	access  *accesslog.Logger
	metrics *metrics.Registry

	listeners  []listener
	conns      map[int]*conn.Connection
	connServer map[int]*config.Server // which ServerConfig accepted this connection
	cgiProcs   map[int]*cgi.Process   // keyed by StdoutFD

	fcgiResults chan fcgiResult
}

// New constructs a Loop bound to source (the live config pointer) and
// logger. access/metrics may be nil (both are domain-stack additions,
// not required for the CORE loop to run).
func New(source *config.Source, log *zap.Logger, access *accesslog.Logger, reg *metrics.Registry) *Loop {
	return &Loop{
		source:      source,
		log:         log,
		access:      access,
		metrics:     reg,
		conns:       make(map[int]*conn.Connection),
		connServer:  make(map[int]*config.Server),
		cgiProcs:    make(map[int]*cgi.Process),
		fcgiResults: make(chan fcgiResult, 64),
	}
}

// Listen creates one non-blocking listening socket per ServerConfig, per
// spec section 6 ("create a stream socket, enable address reuse, set
// non-blocking, bind, listen with backlog at least SOMAXCONN").
func (l *Loop) Listen() error {
	for _, srv := range l.source.Current().Servers {
		fd, err := bindListener(srv.Host, srv.Port)
		if err != nil {
			return fmt.Errorf("eventloop: listen %s:%d: %w", srv.Host, srv.Port, err)
		}
		l.listeners = append(l.listeners, listener{fd: fd, server: srv})
		l.log.Info("listening", zap.String("host", srv.Host), zap.Int("port", srv.Port))
	}
	return nil
}

func bindListener(host string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	addr := &unix.SockaddrInet4{Port: port}
	if host != "" && host != "0.0.0.0" {
		ip := parseIPv4(host)
		addr.Addr = ip
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func parseIPv4(host string) (out [4]byte) {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return out
	}
	for i, p := range parts {
		var b int
		fmt.Sscanf(p, "%d", &b)
		out[i] = byte(b)
	}
	return out
}

// Run drives the loop until ctx is cancelled, per spec section 4.1.
func (l *Loop) Run(ctx context.Context) error {
	defer l.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pollfds := l.buildPollFds()
		n, err := unix.Poll(pollfds, sliceMS)
		if err != nil && err != unix.EINTR {
			l.log.Error("poll failed", zap.Error(err))
			continue
		}

		if n > 0 {
			l.dispatch(pollfds)
		}

		l.drainFastCGIResults()
		l.sweepCGITimeouts()
	}
}

func (l *Loop) buildPollFds() []unix.PollFd {
	var pfds []unix.PollFd
	for _, ln := range l.listeners {
		pfds = append(pfds, unix.PollFd{Fd: int32(ln.fd), Events: unix.POLLIN})
	}
	for fd, c := range l.conns {
		events := int16(unix.POLLIN)
		if c.WantWrite() {
			events |= unix.POLLOUT
		}
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	for _, p := range l.cgiProcs {
		events := int16(unix.POLLIN)
		if p.WantWritable() {
			pfds = append(pfds, unix.PollFd{Fd: int32(p.StdinFD), Events: unix.POLLOUT})
		}
		pfds = append(pfds, unix.PollFd{Fd: int32(p.StdoutFD), Events: events})
	}
	return pfds
}

// dispatch services ready descriptors in one pass, readable before
// writable for the same descriptor (spec section 4.1's ordering
// guarantee), by checking POLLIN before POLLOUT per fd below.
func (l *Loop) dispatch(pfds []unix.PollFd) {
	listenerSet := make(map[int]*config.Server, len(l.listeners))
	for _, ln := range l.listeners {
		listenerSet[ln.fd] = ln.server
	}
	cgiStdout := make(map[int]*cgi.Process, len(l.cgiProcs))
	cgiStdin := make(map[int]*cgi.Process, len(l.cgiProcs))
	for _, p := range l.cgiProcs {
		cgiStdout[p.StdoutFD] = p
		if p.StdinFD >= 0 {
			cgiStdin[p.StdinFD] = p
		}
	}

	for _, pfd := range pfds {
		fd := int(pfd.Fd)
		if pfd.Revents == 0 {
			continue
		}

		if srv, ok := listenerSet[fd]; ok {
			if pfd.Revents&(unix.POLLIN|unix.POLLERR) != 0 {
				l.acceptOne(fd, srv)
			}
			continue
		}

		if p, ok := cgiStdin[fd]; ok && pfd.Revents&unix.POLLOUT != 0 {
			if err := p.WriteStdin(); err != nil {
				l.finalizeCGI(p, true)
				continue
			}
		}
		if p, ok := cgiStdout[fd]; ok && pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			eof, err := p.ReadStdout()
			if err != nil {
				l.finalizeCGI(p, true)
				continue
			}
			if eof {
				l.finalizeCGI(p, false)
			}
			continue
		}

		if c, ok := l.conns[fd]; ok {
			if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				l.onReadable(c)
			}
			if c2, stillOpen := l.conns[fd]; stillOpen && pfd.Revents&unix.POLLOUT != 0 {
				l.onWritable(c2)
			}
		}
	}
}

func (l *Loop) acceptOne(listenFD int, srv *config.Server) {
	nfd, _, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK)
	if err != nil {
		if err != unix.EAGAIN {
			l.log.Warn("accept failed", zap.Error(err))
		}
		return
	}
	// Resolve the listener's Server in the current config generation, so a
	// reload applies to connections accepted after it.
	for _, cur := range l.source.Current().Servers {
		if cur.Host == srv.Host && cur.Port == srv.Port {
			srv = cur
			break
		}
	}
	l.conns[nfd] = conn.New(nfd)
	l.connServer[nfd] = srv
	if l.metrics != nil {
		l.metrics.ConnectionOpened()
	}
}

const readChunk = 64 * 1024

func (l *Loop) onReadable(c *conn.Connection) {
	buf := make([]byte, readChunk)
	for {
		n, err := unix.Read(c.FD, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			l.closeConn(c, "read error")
			return
		}
		if n == 0 {
			l.closeConn(c, "client closed")
			return
		}
		c.RecvBuffer = append(c.RecvBuffer, buf[:n]...)
		c.ReceivedBodySize += int64(n)
		if n < len(buf) {
			break
		}
	}

	if c.CurrentRequest != nil || c.WaitingOnFastCGI || c.WaitingOnCGIFD >= 0 || c.CloseAfterDrain {
		// Spec section 9 Open Question 1 (resolved): no pipelining --
		// once a request has produced a response or handed off to CGI,
		// further bytes on this connection are retained but not parsed.
		// CloseAfterDrain also covers the oversized-declared-length
		// rejection below, which queues its own response without ever
		// setting CurrentRequest.
		return
	}

	if !httpmsg.IsComplete(c.RecvBuffer) {
		// The full body hasn't arrived yet. Spec section 3: recv_buffer is
		// bounded by the effective max body size of the matched Location
		// once known -- don't wait for IsComplete to buffer an entire
		// over-declared Content-Length before rejecting it.
		l.rejectOversizedDeclared(c)
		return
	}
	req := httpmsg.Parse(c.RecvBuffer)
	if req.Method == "" {
		c.QueueResponse(respond.FromHandlerError(status.New(status.KindProtocolMalformed, nil), nil, nil, noSuchFile).Bytes())
		return
	}
	if httpmsg.NeedsLengthRequired(req) {
		c.QueueResponse(respond.FromHandlerError(status.New(status.KindLengthRequired, nil), nil, nil, noSuchFile).Bytes())
		return
	}

	reqCopy := req
	c.CurrentRequest = &reqCopy
	c.ConsumeRecv(req.ParsedLen)
	l.handleRequest(c, &reqCopy)
}

func noSuchFile(string) ([]byte, bool) { return nil, false }

// rejectOversizedDeclared bounds recv_buffer per spec section 3: as soon
// as the matched Location's max_body_size is knowable (the header block
// has arrived, even if the body hasn't), a declared Content-Length that
// already exceeds it is rejected immediately instead of being buffered in
// full. Returns true if it queued a 413 and reset the connection.
func (l *Loop) rejectOversizedDeclared(c *conn.Connection) bool {
	uri, declared, hasCL, headersComplete := httpmsg.PeekDeclaredLength(c.RecvBuffer)
	if !headersComplete || !hasCL {
		return false
	}
	cfg := l.source.Current()
	srv := l.serverFor(c, cfg)
	if srv == nil {
		return false
	}
	uriPath, _ := splitQuery(uri)
	loc, _ := router.Match(srv, uriPath)
	if loc == nil || loc.EffectiveMaxBodySize() == 0 || declared <= loc.EffectiveMaxBodySize() {
		return false
	}
	l.queueError(c, status.New(status.KindPayloadTooLarge, nil), loc, srv)
	c.RecvBuffer = c.RecvBuffer[:0]
	c.ReceivedBodySize = 0
	return true
}

func (l *Loop) onWritable(c *conn.Connection) {
	n, err := unix.Write(c.FD, c.SendBuffer)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		l.closeConn(c, "write error")
		return
	}
	c.SendBuffer = c.SendBuffer[n:]
	if c.DrainedAndDone() {
		l.closeConn(c, "response drained")
	}
}

func (l *Loop) closeConn(c *conn.Connection, reason string) {
	if c.WaitingOnCGIFD >= 0 {
		if p, ok := l.cgiProcs[c.WaitingOnCGIFD]; ok {
			p.Kill()
			delete(l.cgiProcs, c.WaitingOnCGIFD)
			if l.metrics != nil {
				l.metrics.CGIFinished()
			}
		}
	}
	unix.Close(c.FD)
	delete(l.conns, c.FD)
	delete(l.connServer, c.FD)
	if l.metrics != nil {
		l.metrics.ConnectionClosed()
	}
}

func (l *Loop) closeAll() {
	for _, ln := range l.listeners {
		unix.Close(ln.fd)
	}
	for fd := range l.conns {
		unix.Close(fd)
	}
	for _, p := range l.cgiProcs {
		p.Kill()
	}
}

// sweepCGITimeouts implements spec section 4.1 step 4 and section 4.6's
// CGI timeout.
func (l *Loop) sweepCGITimeouts() {
	for stdoutFD, p := range l.cgiProcs {
		if p.TickTimeout(sliceMS) {
			p.Kill()
			delete(l.cgiProcs, stdoutFD)
			if l.metrics != nil {
				l.metrics.CGIFinished()
			}
			if c, ok := l.conns[p.ClientFD]; ok {
				c.WaitingOnCGIFD = -1
				c.QueueResponse(cgi.TimeoutResponse().Bytes())
			}
		}
	}
}

func (l *Loop) finalizeCGI(p *cgi.Process, overflowOrError bool) {
	delete(l.cgiProcs, p.StdoutFD)
	c, ok := l.conns[p.ClientFD]
	if !ok {
		p.Kill()
		return
	}
	c.WaitingOnCGIFD = -1

	if l.metrics != nil {
		l.metrics.CGIFinished()
	}

	if overflowOrError {
		// Output overflow or a pipe error: kill the child rather than
		// leaving it running, then answer 500.
		p.Kill()
		c.QueueResponse(respond.FromHandlerError(status.New(status.KindCgiFailure, nil), nil, nil, noSuchFile).Bytes())
		return
	}
	if p.Finalize() {
		c.QueueResponse(respond.FromHandlerError(status.New(status.KindCgiFailure, nil), nil, nil, noSuchFile).Bytes())
		return
	}
	resp := cgi.AssembleResponse(p.OutputBuffer)
	c.QueueResponse(resp.Bytes())
	if l.access != nil {
		l.access.Log(c.CurrentRequest, resp.Status, len(resp.Body))
	}
	if l.metrics != nil && c.CurrentRequest != nil {
		l.metrics.RequestServed(c.CurrentRequest.Method, resp.Status)
	}
}

func (l *Loop) drainFastCGIResults() {
	for {
		select {
		case res := <-l.fcgiResults:
			c, ok := l.conns[res.clientFD]
			if !ok {
				continue
			}
			c.WaitingOnFastCGI = false
			if res.err != nil {
				c.QueueResponse(respond.FromHandlerError(status.New(status.KindCgiFailure, res.err), nil, nil, noSuchFile).Bytes())
				continue
			}
			c.QueueResponse(res.resp.Bytes())
			if l.access != nil {
				l.access.Log(c.CurrentRequest, res.resp.Status, len(res.resp.Body))
			}
		default:
			return
		}
	}
}

// handleRequest implements the dispatch described across spec sections
// 4.3-4.6: route, check method, then branch to static/upload/CGI/FastCGI.
func (l *Loop) handleRequest(c *conn.Connection, req *httpmsg.Request) {
	cfg := l.source.Current()
	srv := l.serverFor(c, cfg)
	if srv == nil {
		c.QueueResponse(respond.FromHandlerError(status.New(status.KindInternal, nil), nil, nil, noSuchFile).Bytes())
		return
	}

	uriPath, query := splitQuery(req.URI)
	loc, prefix := router.Match(srv, uriPath)

	switch router.CheckMethod(loc, req.Method) {
	case router.MethodNotAllowed:
		l.queueError(c, status.NewMethodNotAllowed(loc.AllowedMethods()), loc, srv)
		return
	case router.MethodNotImplemented:
		l.queueError(c, status.New(status.KindNotImplemented, nil), loc, srv)
		return
	}

	tooLarge := loc != nil && loc.EffectiveMaxBodySize() != 0 && int64(len(req.Body)) > loc.EffectiveMaxBodySize()
	// spec section 8 invariant 1: received_body_size is reset once a request
	// has been extracted, whether or not it turned out to be oversized.
	c.ReceivedBodySize = 0
	if tooLarge {
		l.queueError(c, status.New(status.KindPayloadTooLarge, nil), loc, srv)
		return
	}

	if loc != nil {
		if resp, ok := respond.BuildRedirect(loc); ok {
			c.QueueResponse(resp.Bytes())
			return
		}
	}

	ext := strings.ToLower(path.Ext(uriPath))
	if loc != nil && cgiExtensions[ext] && loc.CGIInterpreter != "" {
		l.dispatchCGI(c, req, srv, loc, prefix, uriPath, query)
		return
	}
	if loc != nil && cgiExtensions[ext] && loc.FastCGIPass != "" {
		l.dispatchFastCGI(c, req, srv, loc, prefix, uriPath, query)
		return
	}

	switch req.Method {
	case "GET", "HEAD":
		resp, err := respond.BuildGetHead(srv, loc, prefix, uriPath, req.Method == "HEAD", respond.OSStat, respond.OSRead, respond.ListDirOS)
		if err != nil {
			l.queueErrorFromErr(c, err, loc, srv)
			return
		}
		c.QueueResponse(resp.Bytes())
		l.logAccess(c, req, resp)
	case "DELETE":
		resp, err := respond.BuildDelete(srv, loc, prefix, uriPath, respond.OSStat, respond.OSRemove)
		if err != nil {
			l.queueErrorFromErr(c, err, loc, srv)
			return
		}
		c.QueueResponse(resp.Bytes())
		l.logAccess(c, req, resp)
	case "POST":
		l.handlePOST(c, req, srv, loc)
	}
}

func (l *Loop) handlePOST(c *conn.Connection, req *httpmsg.Request, srv *config.Server, loc *config.Location) {
	if loc == nil || loc.UploadPath == "" {
		l.queueError(c, status.New(status.KindInternal, nil), loc, srv)
		return
	}
	contentType, _ := req.Header("Content-Type")
	result, err := upload.Handle(contentType, req.Body, loc.UploadPath)
	if err != nil {
		l.queueErrorFromErr(c, err, loc, srv)
		return
	}
	body := []byte(fmt.Sprintf("%d file(s) written\n", len(result.FilesWritten)))
	resp := respond.NewResponse(201, body)
	c.QueueResponse(resp.Bytes())
	l.logAccess(c, req, resp)
}

func (l *Loop) dispatchCGI(c *conn.Connection, req *httpmsg.Request, srv *config.Server, loc *config.Location, prefix, uriPath, query string) {
	scriptPath := respond.PhysicalPath(srv, loc, prefix, uriPath)
	env := cgi.BuildEnviron(cgi.RequestEnvFromMessage(req, scriptPath, uriPath, query), loc)
	p, err := cgi.Spawn(loc.CGIInterpreter, scriptPath, env, req.Body, c.FD)
	if err != nil {
		l.queueError(c, status.New(status.KindCgiFailure, err), loc, srv)
		return
	}
	l.cgiProcs[p.StdoutFD] = p
	c.WaitingOnCGIFD = p.StdoutFD
	if l.metrics != nil {
		l.metrics.CGISpawned()
	}
}

func (l *Loop) dispatchFastCGI(c *conn.Connection, req *httpmsg.Request, srv *config.Server, loc *config.Location, prefix, uriPath, query string) {
	network, addr := splitFastCGIPass(loc.FastCGIPass)
	scriptPath := respond.PhysicalPath(srv, loc, prefix, uriPath)
	reqEnv := cgi.RequestEnvFromMessage(req, scriptPath, uriPath, query)
	params := fastCGIParams(reqEnv)

	c.WaitingOnFastCGI = true
	clientFD := c.FD
	body := append([]byte(nil), req.Body...)
	go func() {
		resp, err := fcgiproxy.Do(context.Background(), network, addr, params, body, 5*time.Second)
		l.fcgiResults <- fcgiResult{clientFD: clientFD, resp: resp, err: err}
	}()
}

func fastCGIParams(r cgi.RequestEnv) map[string]string {
	params := map[string]string{
		"REQUEST_METHOD":  r.Method,
		"SCRIPT_FILENAME": r.ScriptFile,
		"SCRIPT_NAME":     r.Path,
		"QUERY_STRING":    r.Query,
		"SERVER_PROTOCOL": "HTTP/1.1",
		"GATEWAY_INTERFACE": "CGI/1.1",
	}
	if r.ContentType != "" {
		params["CONTENT_TYPE"] = r.ContentType
	}
	if r.ContentLength > 0 {
		params["CONTENT_LENGTH"] = fmt.Sprintf("%d", r.ContentLength)
	}
	return params
}

// splitFastCGIPass accepts "unix:/path/to.sock" or "host:port" (assumed
// tcp), the two address forms a fastcgi_pass config value takes.
func splitFastCGIPass(v string) (network, addr string) {
	if strings.HasPrefix(v, "unix:") {
		return "unix", strings.TrimPrefix(v, "unix:")
	}
	return "tcp", v
}

func splitQuery(uri string) (uriPath, query string) {
	if idx := strings.IndexByte(uri, '?'); idx != -1 {
		return uri[:idx], uri[idx+1:]
	}
	return uri, ""
}

// queueError renders he as a canned error response via loc/srv's error
// page map and queues it on c.
func (l *Loop) queueError(c *conn.Connection, he status.HandlerError, loc *config.Location, srv *config.Server) {
	resp := respond.FromHandlerError(he, loc, srv, noSuchFile)
	c.QueueResponse(resp.Bytes())
	if l.access != nil {
		l.access.Log(c.CurrentRequest, resp.Status, len(resp.Body))
	}
	if l.metrics != nil && c.CurrentRequest != nil {
		l.metrics.RequestServed(c.CurrentRequest.Method, resp.Status)
	}
}

// queueErrorFromErr unwraps a generic error into a HandlerError (status
// package's taxonomy carrier) before queuing, falling back to 500 for
// anything that isn't one.
func (l *Loop) queueErrorFromErr(c *conn.Connection, err error, loc *config.Location, srv *config.Server) {
	he, ok := status.As(err)
	if !ok {
		he = status.New(status.KindInternal, err)
	}
	l.queueError(c, he, loc, srv)
}

func (l *Loop) logAccess(c *conn.Connection, req *httpmsg.Request, resp *respond.Response) {
	if l.access != nil {
		l.access.Log(req, resp.Status, len(resp.Body))
	}
	if l.metrics != nil {
		l.metrics.RequestServed(req.Method, resp.Status)
	}
}

// serverFor returns the ServerConfig recorded for c at accept time; it
// falls back to the first server of cfg only when no entry was recorded
// for c.
func (l *Loop) serverFor(c *conn.Connection, cfg *config.Config) *config.Server {
	if srv, ok := l.connServer[c.FD]; ok {
		return srv
	}
	if len(cfg.Servers) > 0 {
		return cfg.Servers[0]
	}
	return nil
}
