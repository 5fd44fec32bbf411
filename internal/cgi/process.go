// Package cgi implements the CGI child-process supervisor described in
// spec section 4.6: fork/exec an interpreter, own its stdin/stdout
// pipes, drive them from the same readiness loop as client sockets, and
// assemble its CGI-protocol output into an HTTP response.
package cgi

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// MaxOutputBuffer is the cap on buffered child stdout, per spec section
// 3 ("output_buffer: bytes read from child so far (bounded at 1 MiB)").
const MaxOutputBuffer = 1 << 20

// DefaultDeadlineMS is the CGI wall-clock timeout, per spec section 4.6
// ("initial deadline_ms = 5000").
const DefaultDeadlineMS = 5000

// State is the per-Process state machine of spec section 4.6.
type State int

const (
	StateWriteStdinPending State = iota
	StateReadOnly
	StateFinalizing
	StateKilled
)

// Process is the Go analog of spec section 3's CgiProcess: owned
// exclusively by the event loop, keyed by StdoutFD in the loop's map.
type Process struct {
	Pid      int
	StdinFD  int // parent's write end into the child's stdin; -1 once closed
	StdoutFD int // parent's read end from the child's stdout
	ClientFD int // the connection this response belongs to

	OutputBuffer []byte
	InputBuffer  []byte
	DeadlineMS   int
	State        State

	cmd *exec.Cmd
}

// ErrOutputOverflow is returned by ReadStdout when the child has written
// more than MaxOutputBuffer bytes (spec section 4.6: "overflow -> kill +
// 500").
var ErrOutputOverflow = fmt.Errorf("cgi: child stdout exceeded %d bytes", MaxOutputBuffer)

// Spawn forks/execs interpreter with scriptPath as its first argument
// and env as its environment (spec section 4.6 step 2), wiring two pipes
// for stdin/stdout and registering the parent ends as non-blocking raw
// file descriptors so the event loop can poll them directly alongside
// client sockets, exactly as it polls accepted connections.
func Spawn(interpreter, scriptPath string, env []string, body []byte, clientFD int) (*Process, error) {
	stdinReadFD, stdinWriteFD, err := rawPipeNonblock(writeEnd)
	if err != nil {
		return nil, fmt.Errorf("cgi: creating stdin pipe: %w", err)
	}
	stdoutReadFD, stdoutWriteFD, err := rawPipeNonblock(readEnd)
	if err != nil {
		unix.Close(stdinReadFD)
		unix.Close(stdinWriteFD)
		return nil, fmt.Errorf("cgi: creating stdout pipe: %w", err)
	}

	// These *os.File wrappers exist only to satisfy exec.Cmd's Stdin/Stdout
	// fields and are closed on the parent side immediately after Start();
	// cmd.Stdin/cmd.Stdout keep them reachable for the GC until then, so
	// there's no window for a finalizer to close them early. The fds the
	// loop actually polls (stdinWriteFD, stdoutReadFD) are never wrapped in
	// an *os.File and never passed through (*os.File).Fd(), so they stay
	// both non-blocking and immune to finalizer-driven closes.
	childStdin := os.NewFile(uintptr(stdinReadFD), "cgi-stdin-r")
	childStdout := os.NewFile(uintptr(stdoutWriteFD), "cgi-stdout-w")

	args := []string{}
	if scriptPath != "" {
		args = append(args, scriptPath)
	}
	cmd := exec.Command(interpreter, args...)
	cmd.Env = env
	cmd.Stdin = childStdin
	cmd.Stdout = childStdout

	if err := cmd.Start(); err != nil {
		childStdin.Close()
		childStdout.Close()
		unix.Close(stdinWriteFD)
		unix.Close(stdoutReadFD)
		return nil, fmt.Errorf("cgi: starting %s: %w", interpreter, err)
	}

	// The child now has its own dup'd copies of these fds; the parent
	// must close the child-side ends itself or it will never observe
	// EOF on stdout once the child exits.
	childStdin.Close()
	childStdout.Close()

	p := &Process{
		Pid:         cmd.Process.Pid,
		StdinFD:     stdinWriteFD,
		StdoutFD:    stdoutReadFD,
		ClientFD:    clientFD,
		InputBuffer: body,
		DeadlineMS:  DefaultDeadlineMS,
		cmd:         cmd,
	}
	if len(body) == 0 {
		p.State = StateReadOnly
		unix.Close(p.StdinFD)
		p.StdinFD = -1
	} else {
		p.State = StateWriteStdinPending
	}
	return p, nil
}

type pipeEnd int

const (
	readEnd pipeEnd = iota
	writeEnd
)

// rawPipeNonblock creates a pipe and marks the parent-kept end (nonblock)
// non-blocking at the fd level, returning both ends as raw integers. The
// caller hands the other end to exec via a throwaway *os.File and keeps
// this one as a bare int: it is never wrapped in an *os.File, so it is
// never subject to a GC finalizer closing it out from under the event
// loop, and never passed through (*os.File).Fd(), which would silently
// revert it to blocking mode.
func rawPipeNonblock(nonblock pipeEnd) (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], 0); err != nil {
		return -1, -1, err
	}
	target := fds[0]
	if nonblock == writeEnd {
		target = fds[1]
	}
	if err := unix.SetNonblock(target, true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

// WantWritable reports whether the loop should watch StdinFD for
// writability this iteration (spec section 4.6: "If input_buffer is
// non-empty, the child's stdin is watched for writability").
func (p *Process) WantWritable() bool {
	return p.State == StateWriteStdinPending && len(p.InputBuffer) > 0
}

// WriteStdin writes as much of InputBuffer as the pipe will currently
// accept. A "would block" result is silently treated as progress-zero,
// per spec section 4.1's no-blocking-handler rule. When InputBuffer
// empties, the parent's write end is closed to signal EOF to the child.
func (p *Process) WriteStdin() error {
	if p.StdinFD < 0 || len(p.InputBuffer) == 0 {
		return nil
	}
	n, err := unix.Write(p.StdinFD, p.InputBuffer)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		return fmt.Errorf("cgi: writing stdin: %w", err)
	}
	p.InputBuffer = p.InputBuffer[n:]
	if len(p.InputBuffer) == 0 {
		unix.Close(p.StdinFD)
		p.StdinFD = -1
		p.State = StateReadOnly
	}
	return nil
}

const readChunk = 64 * 1024

// ReadStdout appends newly available child output to OutputBuffer. It
// returns eof=true once the child closes its stdout (read returns 0).
// Exceeding MaxOutputBuffer returns ErrOutputOverflow, which the loop
// treats as a kill + 500 per spec section 4.6.
func (p *Process) ReadStdout() (eof bool, err error) {
	buf := make([]byte, readChunk)
	for {
		n, err := unix.Read(p.StdoutFD, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return false, nil
			}
			return false, fmt.Errorf("cgi: reading stdout: %w", err)
		}
		if n == 0 {
			return true, nil
		}
		p.OutputBuffer = append(p.OutputBuffer, buf[:n]...)
		if len(p.OutputBuffer) > MaxOutputBuffer {
			return false, ErrOutputOverflow
		}
		if n < len(buf) {
			// drained this round; more may arrive next iteration
			return false, nil
		}
	}
}

// TickTimeout subtracts the loop slice length from DeadlineMS and
// reports whether the deadline has been reached (spec section 4.1 step
// 4 / section 4.6's "CGI timeout").
func (p *Process) TickTimeout(sliceMS int) (expired bool) {
	p.DeadlineMS -= sliceMS
	return p.DeadlineMS <= 0
}

// Kill sends SIGKILL and reaps the child, closing both pipes. Used both
// by the timeout sweep and by client-disconnect cancellation (spec
// section 4.1, "Cancellation").
func (p *Process) Kill() {
	unix.Kill(p.Pid, syscall.SIGKILL)
	p.reap()
	p.closeFDs()
	p.State = StateKilled
}

// reap performs a non-blocking wait for the child, per spec section 5's
// prohibition on synchronous waits without WNOHANG.
func (p *Process) reap() (exitCode int, ok bool) {
	var ws unix.WaitStatus
	_, err := unix.Wait4(p.Pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		return 0, false
	}
	return ws.ExitStatus(), true
}

func (p *Process) closeFDs() {
	if p.StdinFD >= 0 {
		unix.Close(p.StdinFD)
		p.StdinFD = -1
	}
	if p.StdoutFD >= 0 {
		unix.Close(p.StdoutFD)
		p.StdoutFD = -1
	}
}

// Finalize reaps the child (spec section 4.6: "reap with non-blocking
// wait"), closes both pipes, and reports whether the child exited
// cleanly. The caller (the event loop) is responsible for turning a
// non-zero exit into a 500 and a zero exit into AssembleResponse's
// output.
func (p *Process) Finalize() (exitedNonZero bool) {
	code, _ := p.reap()
	p.closeFDs()
	p.State = StateFinalizing
	return code != 0
}
