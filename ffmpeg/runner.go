package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"time"
)

// Report is one item of a Job's progress stream: either a completed
// interval or the error that terminated the stream. Exactly one of the
// two is meaningful; check Err first.
type Report struct {
	Progress Progress
	Err      error
}

// Job is a running ffmpeg process together with its progress stream.
//
// The two sides are independent: range over Progress until it closes,
// and separately call Cmd.Wait for the exit status and any captured
// output. The stream is buffered without bound, so draining it after
// Wait cannot deadlock.
type Job struct {
	// Cmd is the live ffmpeg process.
	Cmd *exec.Cmd
	// Progress yields one Report per interval, in order, and closes
	// when ffmpeg closes its reporting connection or an unrecoverable
	// protocol error occurs.
	Progress <-chan Report
}

// Start spawns ffmpeg and streams its progress reports.
//
// A loopback listener is bound before the process starts, and an extra
// -progress tcp://127.0.0.1:<port> global option points ffmpeg at it.
// Start blocks until ffmpeg dials back (bounded by ctx and, when set,
// ConnectTimeout), then hands the connection to a background pump.
// Cancelling ctx kills the process and tears the stream down.
//
// Start appends to the builder's options; do not reuse the builder
// for a second invocation.
func (b *Builder) Start(ctx context.Context) (*Job, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bind progress listener: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	b.Option(KV("progress", fmt.Sprintf("tcp://127.0.0.1:%d", port)))

	cmd := b.Command(ctx)
	if err := cmd.Start(); err != nil {
		ln.Close()
		return nil, fmt.Errorf("start %s: %w", b.bin, err)
	}

	conn, err := acceptOne(ctx, ln, b.connectTimeout)
	ln.Close()
	if err != nil {
		// The process is already running; don't leak it.
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}

	in, out := unbounded()
	go func() {
		defer conn.Close()
		unhook := context.AfterFunc(ctx, func() { conn.Close() })
		defer unhook()
		pump(conn, in)
	}()

	return &Job{Cmd: cmd, Progress: out}, nil
}

// acceptOne waits for the single inbound connection ffmpeg makes to
// the progress listener.
func acceptOne(ctx context.Context, ln net.Listener, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(timeout))
		}
	}
	unhook := context.AfterFunc(ctx, func() { ln.Close() })
	defer unhook()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("accept progress connection: %w", err)
	}
	return conn, nil
}

// pump reads progress lines from r, accumulating fields until each
// progress= terminator and sending one Report per completed interval.
// It closes reports on end of stream or after the first unrecoverable
// error, which is delivered as a final Report. The accumulator is
// owned by this goroutine alone; no locking is needed.
func pump(r io.Reader, reports chan<- Report) {
	defer close(reports)

	br := bufio.NewReader(r)
	var acc Progress
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			reports <- Report{Err: err}
			return
		}
		atEOF := err == io.EOF

		if line != "" {
			key, value, ok := parseLine(line)
			if !ok {
				reports <- Report{Err: &KeyValueError{Line: line}}
				return
			}
			if key == "progress" {
				switch value {
				case "continue":
					acc.Status = StatusContinue
				case "end":
					acc.Status = StatusEnd
				default:
					// The half-built interval is discarded, not delivered.
					reports <- Report{Err: &StatusError{Value: value}}
					return
				}
				reports <- Report{Progress: acc}
				acc = Progress{}
			} else if err := acc.apply(key, value); err != nil {
				reports <- Report{Err: err}
				return
			}
		}

		if atEOF {
			return
		}
	}
}

// unbounded links two channels through a growable buffer so sends on
// the returned in channel never block, however slowly out is drained.
// The pump must not stall behind a slow consumer, or ffmpeg itself
// would block writing the progress socket. The cost is unbounded
// memory if the consumer never reads; accepted trade-off. Closing in
// closes out once the buffer empties.
func unbounded() (in chan<- Report, out <-chan Report) {
	src := make(chan Report)
	dst := make(chan Report)
	go func() {
		defer close(dst)
		var queue []Report
		recv := src
		for {
			if len(queue) == 0 {
				if recv == nil {
					return
				}
				r, ok := <-recv
				if !ok {
					return
				}
				queue = append(queue, r)
				continue
			}
			select {
			case r, ok := <-recv:
				if !ok {
					recv = nil
					continue
				}
				queue = append(queue, r)
			case dst <- queue[0]:
				queue = queue[1:]
			}
		}
	}()
	return src, dst
}
