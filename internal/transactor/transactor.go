// Package transactor launches the transactional program under test and
// captures its combined output.
//
// A Process must always be closed; Close is idempotent so it can be deferred
// immediately after a successful Start:
//
//	p, err := transactor.Start(ctx, cmd, args)
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
// Stop ends the process but keeps its output readable until Close.
package transactor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultName is the executable searched for when no command is configured.
const DefaultName = "eos-transactor"

// ErrExitedEarly is returned from Start if the process exits before its grace
// period elapses.
var ErrExitedEarly = errors.New("transactor exited immediately after launch")

// EarlyExitError wraps ErrExitedEarly with the process's exit status and
// whatever it printed before exiting.
type EarlyExitError struct {
	Err    error // the wait error, usually an *exec.ExitError
	Output string
}

func (e *EarlyExitError) Error() string {
	return fmt.Sprintf("%v: %v", ErrExitedEarly, e.Err)
}

func (e *EarlyExitError) Is(target error) bool { return target == ErrExitedEarly }

func (e *EarlyExitError) Unwrap() error { return e.Err }

// Args are the flags every transactor is launched with.
type Args struct {
	Brokers     string
	Group       string
	InputTopic  string
	Partition   int
	OutputTopic string
}

// Flags renders a as the transactor's command line flags.
func (a Args) Flags() []string {
	return []string{
		"-b", a.Brokers,
		"-g", a.Group,
		"-t", a.InputTopic,
		"-p", strconv.Itoa(a.Partition),
		"-o", a.OutputTopic,
	}
}

type cfg struct {
	grace     time.Duration
	stopAfter time.Duration
	dir       string
	logger    *zap.Logger
}

// Opt configures Start.
type Opt interface {
	apply(*cfg)
}

type opt struct{ fn func(*cfg) }

func (o opt) apply(c *cfg) { o.fn(c) }

// Grace sets how long the process must stay alive after launch, overriding
// the default 1s.
func Grace(d time.Duration) Opt { return opt{func(c *cfg) { c.grace = d }} }

// StopTimeout sets how long Stop waits after terminating the process before
// killing it, overriding the default 10s.
func StopTimeout(d time.Duration) Opt { return opt{func(c *cfg) { c.stopAfter = d }} }

// Dir sets the working directory of the process.
func Dir(dir string) Opt { return opt{func(c *cfg) { c.dir = dir }} }

// Logger sets the logger used for lifecycle events.
func Logger(l *zap.Logger) Opt { return opt{func(c *cfg) { c.logger = l }} }

// Process is a running transactor.
type Process struct {
	cmd *exec.Cmd
	out *os.File
	cfg cfg

	done    chan struct{} // closed once the process has been waited on
	waitErr error

	stopOnce sync.Once
	stopErr  error
}

// Start launches command with args appended to it, sending combined
// stdout and stderr to a temporary file. If the process exits within the
// grace period, Start returns an *EarlyExitError.
//
// The process is not tied to ctx's lifetime; ctx only bounds the grace wait.
func Start(ctx context.Context, command []string, args Args, opts ...Opt) (*Process, error) {
	c := cfg{
		grace:     time.Second,
		stopAfter: 10 * time.Second,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o.apply(&c)
	}
	if len(command) == 0 {
		return nil, errors.New("empty transactor command")
	}

	out, err := os.CreateTemp("", "eosbench-transactor-*.log")
	if err != nil {
		return nil, fmt.Errorf("unable to create output buffer: %w", err)
	}

	argv := append(append([]string(nil), command[1:]...), args.Flags()...)
	cmd := exec.Command(command[0], argv...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Dir = c.dir
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		closeAndRemove(out)
		return nil, fmt.Errorf("unable to start transactor %s: %w", command[0], err)
	}
	c.logger.Info("started transactor", zap.Int("pid", cmd.Process.Pid), zap.Strings("argv", cmd.Args))

	p := &Process{
		cmd:  cmd,
		out:  out,
		cfg:  c,
		done: make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	select {
	case <-timer.C:
		return p, nil
	case <-p.done:
		output, _ := p.Output()
		p.Close()
		err := p.waitErr
		if err == nil {
			err = errors.New("exit status 0")
		}
		return nil, &EarlyExitError{Err: err, Output: output}
	case <-ctx.Done():
		p.Close()
		return nil, ctx.Err()
	}
}

// Pid returns the process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Exited returns whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Output returns everything the process has written so far. It remains
// readable after Stop, but not after Close.
func (p *Process) Output() (string, error) {
	if p.out == nil {
		return "", errors.New("transactor output already released")
	}
	b, err := io.ReadAll(io.NewSectionReader(p.out, 0, 1<<62))
	if err != nil {
		return "", fmt.Errorf("unable to read transactor output: %w", err)
	}
	return string(b), nil
}

// Stop terminates the process if it is still running and waits for it to
// exit, killing it if it does not exit within the stop timeout. Stop is safe
// to call multiple times; it returns the same result each time.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() { p.stopErr = p.stop() })
	return p.stopErr
}

func (p *Process) stop() error {
	if p.Exited() {
		return nil
	}
	p.cfg.logger.Info("terminating transactor", zap.Int("pid", p.Pid()))
	if err := terminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.cfg.logger.Warn("unable to terminate transactor, killing", zap.Error(err))
		p.cmd.Process.Kill()
	}

	timer := time.NewTimer(p.cfg.stopAfter)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}
	p.cfg.logger.Warn("transactor did not exit in time, killing", zap.Duration("waited", p.cfg.stopAfter))
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("unable to kill transactor: %w", err)
	}
	<-p.done
	return nil
}

// Close stops the process and removes its output buffer.
func (p *Process) Close() error {
	err := p.Stop()
	if p.out != nil {
		closeAndRemove(p.out)
		p.out = nil
	}
	return err
}

func closeAndRemove(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

// Resolve turns a configured command string into an argv. An empty command
// resolves DefaultName next to the running executable, falling back to PATH.
func Resolve(command string) ([]string, error) {
	if fields := strings.Fields(command); len(fields) > 0 {
		return fields, nil
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), DefaultName)
		if fi, err := os.Stat(sibling); err == nil && !fi.IsDir() {
			return []string{sibling}, nil
		}
	}
	path, err := exec.LookPath(DefaultName)
	if err != nil {
		return nil, fmt.Errorf("no transactor configured and %s not found: %w", DefaultName, err)
	}
	return []string{path}, nil
}
