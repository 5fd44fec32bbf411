// Package conn holds the per-connection state the event loop tracks for
// each accepted socket, per spec section 3's Connection type.
package conn

import "github.com/webserv/webserv/internal/httpmsg"

// Connection is the event loop's record for one accepted client socket.
// The loop owns exactly one of these per fd; nothing outside the loop
// goroutine touches it, so it needs no locking.
type Connection struct {
	FD int

	RecvBuffer []byte
	SendBuffer []byte

	CurrentRequest    *httpmsg.Request
	ReceivedBodySize  int64
	CloseAfterDrain   bool // set once a response has been queued; spec: every response closes

	// WaitingOnCGIFD, when >= 0, names the companion cgi.Process this
	// connection is waiting on (keyed by its StdoutFD), so the loop can
	// find the Connection again once that process finishes.
	WaitingOnCGIFD int

	// WaitingOnFastCGI is set while a fastcgi_pass round trip is running
	// in its own goroutine (see eventloop), so the loop knows not to
	// parse further requests off this connection in the meantime.
	WaitingOnFastCGI bool
}

// New allocates a Connection for a freshly accepted fd.
func New(fd int) *Connection {
	return &Connection{FD: fd, WaitingOnCGIFD: -1}
}

// QueueResponse appends bytes to SendBuffer and marks the connection to
// close once the buffer drains, matching this project's decision (spec
// section 9, Open Question 2) to never honor keep-alive.
func (c *Connection) QueueResponse(b []byte) {
	c.SendBuffer = append(c.SendBuffer, b...)
	c.CloseAfterDrain = true
}

// ConsumeRecv drops the first n bytes of RecvBuffer, the way the loop
// advances past a fully parsed request (or discarded junk).
func (c *Connection) ConsumeRecv(n int) {
	if n <= 0 {
		return
	}
	if n >= len(c.RecvBuffer) {
		c.RecvBuffer = c.RecvBuffer[:0]
		return
	}
	c.RecvBuffer = append(c.RecvBuffer[:0], c.RecvBuffer[n:]...)
}

// WantWrite reports whether the loop should watch FD for writability.
func (c *Connection) WantWrite() bool {
	return len(c.SendBuffer) > 0
}

// DrainedAndDone reports whether this connection's send buffer is empty
// and it was marked to close -- the signal to remove it from the loop.
func (c *Connection) DrainedAndDone() bool {
	return c.CloseAfterDrain && len(c.SendBuffer) == 0
}
