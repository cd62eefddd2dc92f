//go:build linux

package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sys/unix"

	"github.com/ja7ad/mergen/pkg/entity"
)

// defaultShell interprets shell-mode commands when no executable is
// configured.
const defaultShell = "/bin/sh"

// Process drives one subprocess lifecycle for a fully materialized command.
// Shell mode hands the whole line to the shell; direct mode tokenizes it into
// a pipeline of argv vectors connected stdin-to-stdout. A soft run_time timer
// signals the final child once; a hard timeout kills the pipeline.
type Process struct {
	ctx     *RunContext
	command *entity.Command

	procs    []*exec.Cmd
	closers  []io.Closer
	outFiles []*os.File
	outBuf   *bytes.Buffer
	errBuf   *bytes.Buffer

	termSig unix.Signal
	done    chan struct{}
	reapErr error
}

func NewProcess(ctx *RunContext, cmd *entity.Command) *Process {
	return &Process{ctx: ctx, command: cmd, termSig: unix.SIGTERM}
}

// SetTermSignal overrides the signal sent when run_time elapses or the
// process is stopped asynchronously.
func (p *Process) SetTermSignal(sig unix.Signal) { p.termSig = sig }

func (p *Process) name() string {
	if n := p.command.Name(); n != "" {
		return n
	}
	return p.command.Cmd
}

// Run executes the command synchronously, honoring run_time and timeout.
func (p *Process) Run() error {
	if err := p.spawn(); err != nil {
		return err
	}
	if p.command.RunTime > 0 {
		go p.timer()
	}
	if p.command.Timeout > 0 {
		select {
		case <-p.done:
		case <-time.After(p.command.Timeout):
			p.Kill()
			<-p.done
			p.closeOutputs()
			if !p.command.RaiseError {
				p.ctx.Logger().Warn("command timed out", "command", p.name(), "timeout", p.command.Timeout)
				return nil
			}
			return fmt.Errorf("%w: command %q did not exit within %s", ErrTimeout, p.name(), p.command.Timeout)
		}
	} else {
		<-p.done
	}
	return p.finish()
}

// Start spawns the command and returns immediately; pair with Signal/Wait.
func (p *Process) Start() error {
	if err := p.spawn(); err != nil {
		return err
	}
	if p.command.RunTime > 0 {
		go p.timer()
	}
	return nil
}

// Signal delivers sig to the final child of the pipeline.
func (p *Process) Signal(sig unix.Signal) {
	if len(p.procs) == 0 {
		return
	}
	last := p.procs[len(p.procs)-1]
	if last.Process != nil {
		_ = last.Process.Signal(sig)
	}
}

// Stop sends the termination signal and waits for exit.
func (p *Process) Stop() error {
	p.Signal(p.termSig)
	return p.Wait()
}

// Kill forcefully terminates every child of the pipeline.
func (p *Process) Kill() {
	for _, c := range p.procs {
		if c.Process != nil {
			_ = c.Process.Kill()
		}
	}
}

// Wait blocks until the pipeline has been reaped and maps the exit status.
func (p *Process) Wait() error {
	if p.done == nil {
		return nil
	}
	<-p.done
	return p.finish()
}

func (p *Process) spawn() error {
	cmdline := p.command.Cmd
	if strings.TrimSpace(cmdline) == "" {
		return fmt.Errorf("%w: empty command %q", ErrConfig, p.name())
	}

	if p.command.Shell {
		sh := p.command.ShellExecutable
		if sh == "" {
			sh = defaultShell
		}
		p.procs = []*exec.Cmd{exec.Command(sh, "-c", cmdline)}
	} else {
		segs, err := SplitPipeline(cmdline)
		if err != nil {
			return err
		}
		p.procs = make([]*exec.Cmd, 0, len(segs))
		for _, seg := range segs {
			p.procs = append(p.procs, exec.Command(seg[0], seg[1:]...))
		}
	}

	// Connect pipeline segments; the parent closes its pipe ends after the
	// children inherit them so EOF propagates.
	for i := 0; i < len(p.procs)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("%w: pipe: %v", ErrSubprocess, err)
		}
		p.procs[i].Stdout = w
		p.procs[i+1].Stdin = r
		p.closers = append(p.closers, r, w)
	}

	last := p.procs[len(p.procs)-1]
	if err := p.wireOutput(last); err != nil {
		p.closeAll()
		return err
	}

	p.ctx.Logger().Debug("spawning command", "command", p.name(), "cmd", cmdline, "shell", p.command.Shell)
	for i, c := range p.procs {
		if err := c.Start(); err != nil {
			for _, started := range p.procs[:i] {
				_ = started.Process.Kill()
				_ = started.Wait()
			}
			p.closeAll()
			return fmt.Errorf("%w: spawn %q: %v", ErrSubprocess, p.name(), err)
		}
	}
	// Parent-side pipe ends are no longer needed once every child holds its
	// copy.
	for _, cl := range p.closers {
		_ = cl.Close()
	}
	p.closers = nil

	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		for _, c := range p.procs {
			if err := c.Wait(); err != nil {
				p.reapErr = err
			}
		}
	}()
	return nil
}

func (p *Process) wireOutput(last *exec.Cmd) error {
	if p.command.PipeStdout != "" {
		f, err := os.Create(p.command.PipeStdout)
		if err != nil {
			return fmt.Errorf("%w: open stdout pipe %s: %v", ErrSubprocess, p.command.PipeStdout, err)
		}
		last.Stdout = f
		p.outFiles = append(p.outFiles, f)
	} else if p.command.DebugStdout {
		p.outBuf = &bytes.Buffer{}
		last.Stdout = p.outBuf
	}

	if p.command.PipeStderr != "" {
		f, err := os.Create(p.command.PipeStderr)
		if err != nil {
			return fmt.Errorf("%w: open stderr pipe %s: %v", ErrSubprocess, p.command.PipeStderr, err)
		}
		last.Stderr = f
		p.outFiles = append(p.outFiles, f)
	} else if p.command.DebugStderr {
		p.errBuf = &bytes.Buffer{}
		last.Stderr = p.errBuf
	}
	return nil
}

func (p *Process) closeAll() {
	for _, cl := range p.closers {
		_ = cl.Close()
	}
	p.closers = nil
	p.closeOutputs()
}

func (p *Process) closeOutputs() {
	for _, f := range p.outFiles {
		_ = f.Close()
	}
	p.outFiles = nil
	if p.outBuf != nil && p.outBuf.Len() > 0 {
		p.ctx.Logger().Debug("command stdout", "command", p.name(), "output", p.outBuf.String())
		p.outBuf = nil
	}
	if p.errBuf != nil && p.errBuf.Len() > 0 {
		p.ctx.Logger().Debug("command stderr", "command", p.name(), "output", p.errBuf.String())
		p.errBuf = nil
	}
}

func (p *Process) finish() error {
	p.closeOutputs()
	if p.reapErr == nil {
		return nil
	}
	var werr error
	var ee *exec.ExitError
	if errors.As(p.reapErr, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			werr = fmt.Errorf("%w: command %q exited with code %d", ErrSubprocess, p.name(), code)
		} else {
			werr = fmt.Errorf("%w: command %q terminated: %s", ErrSubprocess, p.name(), ee.ProcessState.String())
		}
	} else {
		werr = fmt.Errorf("%w: command %q: %v", ErrSubprocess, p.name(), p.reapErr)
	}
	if !p.command.RaiseError {
		p.ctx.Logger().Warn("command failed", "command", p.name(), "err", werr)
		return nil
	}
	return werr
}

// timer implements the soft run_time cap: poll child liveness once per
// second, then send the termination signal exactly once.
func (p *Process) timer() {
	for i := 0; i < p.command.RunTime; i++ {
		select {
		case <-p.done:
			return
		case <-time.After(time.Second):
		}
	}
	p.ctx.Logger().Debug("run time elapsed, terminating", "command", p.name(), "run_time", p.command.RunTime)
	p.Signal(p.termSig)
}

// SplitPipeline tokenizes a direct-mode command line into pipeline argv
// segments, splitting on unquoted '|' and whitespace while honoring single
// and double quotes.
func SplitPipeline(line string) ([][]string, error) {
	var (
		segs  [][]string
		cur   []string
		tok   strings.Builder
		inTok bool
		quote rune
	)
	flushTok := func() {
		if inTok {
			cur = append(cur, tok.String())
			tok.Reset()
			inTok = false
		}
	}
	flushSeg := func() error {
		flushTok()
		if len(cur) == 0 {
			return fmt.Errorf("%w: empty pipeline segment in %q", ErrConfig, line)
		}
		segs = append(segs, cur)
		cur = nil
		return nil
	}
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				tok.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inTok = true
		case r == '|':
			if err := flushSeg(); err != nil {
				return nil, err
			}
		case unicode.IsSpace(r):
			flushTok()
		default:
			tok.WriteRune(r)
			inTok = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unbalanced quote in command %q", ErrConfig, line)
	}
	if err := flushSeg(); err != nil {
		return nil, err
	}
	return segs, nil
}
