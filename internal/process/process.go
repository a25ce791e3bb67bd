package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineSize       = 1024 * 1024
)

// Handle owns exactly one spawned child and its output pipes.
// ReadLines and Wait belong to the goroutine that owns the child; Kill and
// PID may be called from anywhere.
type Handle struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	stdout    io.ReadCloser
	stderr    io.ReadCloser

	pidFileErr error

	waitOnce sync.Once
	exit     ExitStatus
	waitErr  error
}

// Spawn starts the child described by spec with stdout and stderr captured.
// It returns as soon as the OS has created the process.
func Spawn(spec Spec) (*Handle, error) {
	fail := func(err error) (*Handle, error) {
		return nil, &SpawnError{Path: spec.Executable, Args: spec.Args, Err: err}
	}
	if err := spec.Validate(); err != nil {
		return fail(err)
	}
	cmd := spec.BuildCommand()
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return fail(err)
	}
	if err := cmd.Start(); err != nil {
		return fail(err)
	}
	h := &Handle{
		spec:      spec,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		stdout:    stdout,
		stderr:    stderr,
	}
	// The child is already running; a PID file failure is reported through
	// PIDFileError rather than failing the spawn.
	if spec.PIDFile != "" {
		if err := WritePIDFile(spec.PIDFile, h.pid); err != nil {
			h.pidFileErr = fmt.Errorf("write pid file %s: %w", spec.PIDFile, err)
		}
	}
	return h, nil
}

// PIDFileError returns the error from writing Spec.PIDFile, if any.
func (h *Handle) PIDFileError() error { return h.pidFileErr }

// SetReadDeadline bounds how long reads on both output pipes may block. A
// read past the deadline fails ReadLines like any other capture error.
func (h *Handle) SetReadDeadline(t time.Time) error {
	var errs []error
	for _, r := range []io.ReadCloser{h.stdout, h.stderr} {
		f, ok := r.(interface{ SetReadDeadline(time.Time) error })
		if !ok {
			errs = append(errs, os.ErrNoDeadline)
			continue
		}
		if err := f.SetReadDeadline(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PID returns the OS process id. Valid immediately after Spawn.
func (h *Handle) PID() int { return h.pid }

// StartedAt returns when the child was spawned.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Spec returns the spec the child was launched from.
func (h *Handle) Spec() Spec { return h.spec }

// ReadLines blocks, handing every captured line to emit, until both pipes
// are closed. stderr is read on a helper goroutine, so emit must be safe
// for concurrent use. Lines longer than maxLineSize are split.
//
// A read failure on either pipe kills the process group, so the other pipe
// reaches EOF, and is returned as *OutputError once both pipes are done.
func (h *Handle) ReadLines(emit func(OutputLine)) error {
	errc := make(chan error, 1)
	go func() { errc <- h.scan(h.stderr, Stderr, emit) }()
	err := h.scan(h.stdout, Stdout, emit)
	if serr := <-errc; err == nil {
		err = serr
	}
	return err
}

func (h *Handle) scan(r io.Reader, stream Stream, emit func(OutputLine)) error {
	br := bufio.NewReaderSize(r, initialLineBuffer)
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			if len(line) >= maxLineSize {
				emitLine(line, stream, emit)
				line = line[:0]
			}
			continue
		}
		if len(line) > 0 {
			emitLine(line, stream, emit)
			line = line[:0]
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
			return nil
		}
		// Capture is lost: the child counts as dead. Keep the pipe drained
		// until the kill lands so the child cannot block on a write.
		_ = h.Kill()
		_, _ = io.Copy(io.Discard, r)
		return &OutputError{Path: h.spec.Executable, Stream: stream, Err: err}
	}
}

func emitLine(b []byte, stream Stream, emit func(OutputLine)) {
	text := strings.TrimRight(strings.TrimSuffix(string(b), "\n"), "\r")
	emit(OutputLine{Origin: stream, Text: text, ObservedAt: time.Now()})
}

// Wait blocks until the child exits and reaps it. Subsequent calls return
// the same result. A non-zero exit is reported in ExitStatus, not as error;
// the error is reserved for failures of the wait itself.
func (h *Handle) Wait() (ExitStatus, error) {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()
		var ee *exec.ExitError
		if err != nil && !errors.As(err, &ee) {
			h.waitErr = err
		}
		h.exit = exitStatusOf(h.cmd.ProcessState)
		if h.spec.PIDFile != "" {
			RemovePIDFile(h.spec.PIDFile)
		}
	})
	return h.exit, h.waitErr
}

// Kill forcibly terminates the child's process group. Killing a child that
// is already gone succeeds.
func (h *Handle) Kill() error { return killGroup(h.pid) }
