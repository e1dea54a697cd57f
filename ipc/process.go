package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"
)

// Backend is a backend child process whose stdin and stdout carry the channel.
// The channel stays open after the child exits until everything the child
// wrote has been read; it then closes with the exit error, if any.
type Backend struct {
	Channel *Channel

	cmd    *exec.Cmd
	logger logrus.FieldLogger

	exited  chan struct{}
	waitMu  sync.Mutex
	waitErr error
}

// StartBackend launches path with args and frames the channel over the
// child's stdio. The returned channel has not been started.
func StartBackend(path string, args []string, options ChannelOptions) (*Backend, error) {
	if path == "" {
		return nil, fmt.Errorf("start backend: %w", exec.ErrNotFound)
	}

	cmd := exec.Command(path, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open backend stdin: %w", err)
	}
	// stdout is not an exec pipe so Wait cannot close it before the
	// channel has read the child's last frames.
	stdout, childStdout, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("open backend stdout: %w", err)
	}
	cmd.Stdout = childStdout
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = childStdout.Close()
		return nil, fmt.Errorf("start backend %q: %w", path, err)
	}
	_ = childStdout.Close()

	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
		options.Logger = logger
	}

	backend := &Backend{
		cmd:    cmd,
		logger: logger,
		exited: make(chan struct{}),
	}
	output := &processOutput{r: stdout, backend: backend}
	backend.Channel = NewStreamChannel(output, stdin, []io.Closer{stdin, stdout}, options)
	go backend.wait()

	logger.WithFields(logrus.Fields{
		"function": "StartBackend",
		"path":     path,
		"pid":      cmd.Process.Pid,
	}).Info("Backend process started")
	return backend, nil
}

// Exited is closed once the child process has exited.
func (b *Backend) Exited() <-chan struct{} {
	return b.exited
}

// Err returns the process exit error after Exited is closed.
func (b *Backend) Err() error {
	b.waitMu.Lock()
	defer b.waitMu.Unlock()
	return b.waitErr
}

// Stop closes the channel, which ends the child's stdin, and waits for the
// process to exit. The process is killed if ctx ends first.
func (b *Backend) Stop(ctx context.Context) error {
	_ = b.Channel.Close()

	select {
	case <-b.exited:
		return nil
	case <-ctx.Done():
		if err := b.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill backend: %w", err)
		}
		<-b.exited
		return ctx.Err()
	}
}

func (b *Backend) wait() {
	err := b.cmd.Wait()

	b.waitMu.Lock()
	b.waitErr = err
	b.waitMu.Unlock()

	fields := logrus.Fields{"function": "wait"}
	if err != nil {
		fields["error"] = err.Error()
	}
	b.logger.WithFields(fields).Info("Backend process exited")

	close(b.exited)
}

// processOutput reads the child's stdout and replaces the final EOF with the
// exit error when the child failed.
type processOutput struct {
	r       *os.File
	backend *Backend
}

func (p *processOutput) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if errors.Is(err, io.EOF) {
		<-p.backend.exited
		if exitErr := p.backend.Err(); exitErr != nil {
			return n, fmt.Errorf("backend exited: %w", exitErr)
		}
	}
	return n, err
}
