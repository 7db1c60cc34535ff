// Package ffmpeg wraps the ffmpeg CLI, using -progress to report
// typed progress events over a loopback socket.
//
// A Builder describes the invocation (global options, inputs, outputs),
// Start spawns the process, and the returned Job exposes the live
// process alongside a channel of per-interval progress Reports.
package ffmpeg

import (
	"context"
	"io"
	"os/exec"
	"time"
)

// DefaultBinary is the command used when none is configured.
const DefaultBinary = "ffmpeg"

// Parameter is a single ffmpeg command-line option, either a bare flag
// or a key/value pair. The leading dash is inserted when rendering, so
// the name never includes it.
type Parameter struct {
	key      string
	value    string
	hasValue bool
}

// Flag returns an option that takes no value, e.g. Flag("y") for -y.
func Flag(name string) Parameter {
	return Parameter{key: name}
}

// KV returns an option with a value, e.g. KV("t", "10") for -t 10.
func KV(key, value string) Parameter {
	return Parameter{key: key, value: value, hasValue: true}
}

func (p Parameter) args() []string {
	switch {
	case p.hasValue:
		return []string{"-" + p.key, p.value}
	case p.key != "":
		return []string{"-" + p.key}
	default:
		// A flag with an empty name still renders one empty argument.
		return []string{""}
	}
}

// File is a url or path that ffmpeg reads from or writes to, together
// with the options scoped to it. Whether it is an input or an output
// depends on what it is added to the Builder as.
type File struct {
	URL     string
	Options []Parameter
}

// NewFile returns a File with no options set. A plain path works as
// the url, same as with ffmpeg itself.
func NewFile(url string) File {
	return File{URL: url}
}

// WithOption returns a copy of the file with the option appended.
func (f File) WithOption(p Parameter) File {
	f.Options = append(f.Options[:len(f.Options):len(f.Options)], p)
	return f
}

func (f File) args(input bool) []string {
	var args []string
	for _, opt := range f.Options {
		args = append(args, opt.args()...)
	}
	if input {
		args = append(args, "-i")
	}
	return append(args, f.URL)
}

// Builder accumulates the description of one ffmpeg invocation.
type Builder struct {
	options []Parameter
	inputs  []File
	outputs []File

	bin    string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	connectTimeout time.Duration
}

// New returns a Builder with nothing set. The binary defaults to
// DefaultBinary and all three standard streams default to discarded.
func New() *Builder {
	return &Builder{bin: DefaultBinary}
}

// Option appends a global option.
func (b *Builder) Option(p Parameter) *Builder {
	b.options = append(b.options, p)
	return b
}

// Input appends an input file.
func (b *Builder) Input(f File) *Builder {
	b.inputs = append(b.inputs, f)
	return b
}

// Output appends an output file.
func (b *Builder) Output(f File) *Builder {
	b.outputs = append(b.outputs, f)
	return b
}

// Binary overrides the command run for ffmpeg.
func (b *Builder) Binary(name string) *Builder {
	b.bin = name
	return b
}

// Stdin sets the subprocess's standard input. nil means discarded.
func (b *Builder) Stdin(r io.Reader) *Builder {
	b.stdin = r
	return b
}

// Stdout sets the subprocess's standard output. nil means discarded.
func (b *Builder) Stdout(w io.Writer) *Builder {
	b.stdout = w
	return b
}

// Stderr sets the subprocess's standard error. nil means discarded.
// Pass a bytes.Buffer to capture ffmpeg's log output.
func (b *Builder) Stderr(w io.Writer) *Builder {
	b.stderr = w
	return b
}

// ConnectTimeout bounds how long Start waits for ffmpeg to dial back
// to the progress listener. Zero waits until the context is done.
func (b *Builder) ConnectTimeout(d time.Duration) *Builder {
	b.connectTimeout = d
	return b
}

// Args renders the argument list: global options first, then each
// input's options followed by -i and its url, then each output's
// options followed by its url. No escaping or validation is applied;
// arguments reach the process verbatim since no shell is involved.
func (b *Builder) Args() []string {
	var args []string
	for _, opt := range b.options {
		args = append(args, opt.args()...)
	}
	for _, in := range b.inputs {
		args = append(args, in.args(true)...)
	}
	for _, out := range b.outputs {
		args = append(args, out.args(false)...)
	}
	return args
}

// Command assembles the exec.Cmd for the current state of the builder.
// Usually you want Start instead, which also wires up progress
// reporting.
func (b *Builder) Command(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, b.bin, b.Args()...)
	cmd.Stdin = b.stdin
	cmd.Stdout = b.stdout
	cmd.Stderr = b.stderr
	return cmd
}
