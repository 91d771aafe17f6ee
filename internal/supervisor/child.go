package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"
)

// ErrNoCommand is returned when there is nothing to run.
var ErrNoCommand = errors.New("supervisor: no command given")

// BaseURLEnv points the child's API client at the proxy.
const BaseURLEnv = "ANTHROPIC_BASE_URL"

// Child describes the supervised process.
type Child struct {
	Args    []string
	BaseURL string
	// Env is appended to the inherited environment; later entries win.
	Env []string
	Dir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// WaitDelay bounds how long Run waits after interrupting the child on
	// context cancellation before killing it.
	WaitDelay time.Duration
	Logger    *slog.Logger
}

// Run starts the child, forwards interrupt, terminate and hangup signals to
// it and waits. The returned code is the child's exit status, or 128 plus
// the signal number when it was killed by a signal.
func (c Child) Run(ctx context.Context) (int, error) {
	if len(c.Args) == 0 || c.Args[0] == "" {
		return 1, ErrNoCommand
	}
	log := c.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	path, err := exec.LookPath(c.Args[0])
	if err != nil {
		return 127, fmt.Errorf("finding %s: %w", c.Args[0], err)
	}

	cmd := exec.CommandContext(ctx, path, c.Args[1:]...)
	cmd.Args[0] = c.Args[0]
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	if c.BaseURL != "" {
		cmd.Env = append(cmd.Env, BaseURLEnv+"="+c.BaseURL)
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	}
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = c.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 10 * time.Second
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return 126, fmt.Errorf("starting %s: %w", c.Args[0], err)
	}
	log.Info("child started", "pid", cmd.Process.Pid, "cmd", c.Args[0], "base_url", c.BaseURL)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				log.Debug("forwarding signal", "signal", sig.String())
				_ = cmd.Process.Signal(sig)
			}
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	code := exitCode(cmd.ProcessState)
	log.Info("child exited", "code", code)

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && ctx.Err() == nil {
		return code, fmt.Errorf("waiting for %s: %w", c.Args[0], waitErr)
	}
	return code, nil
}

func exitCode(ps *os.ProcessState) int {
	if ps == nil {
		return 1
	}
	if code := ps.ExitCode(); code >= 0 {
		return code
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return 1
}

// Options configures Supervise.
type Options struct {
	Command  []string
	Listen   string
	Upstream string
	// Transport carries proxied requests upstream.
	Transport http.RoundTripper
	Env       []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Supervise serves the proxy, runs the command against it and stops the
// proxy once the command exits. It returns the command's exit code.
func Supervise(ctx context.Context, opts Options) (int, error) {
	if len(opts.Command) == 0 {
		return 1, ErrNoCommand
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	proxy, err := NewProxy(opts.Upstream, opts.Transport, log)
	if err != nil {
		return 1, err
	}
	listen := opts.Listen
	if listen == "" {
		listen = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return 1, fmt.Errorf("proxy listen %s: %w", listen, err)
	}

	proxyCtx, stopProxy := context.WithCancel(context.Background())
	proxyErr := make(chan error, 1)
	go func() { proxyErr <- proxy.Serve(proxyCtx, ln) }()

	code, runErr := Child{
		Args:    opts.Command,
		BaseURL: "http://" + ln.Addr().String(),
		Env:     opts.Env,
		Stdin:   opts.Stdin,
		Stdout:  opts.Stdout,
		Stderr:  opts.Stderr,
		Logger:  log,
	}.Run(ctx)

	stopProxy()
	if err := <-proxyErr; err != nil {
		log.Warn("proxy stopped with error", "err", err)
	}
	return code, runErr
}
