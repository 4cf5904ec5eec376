package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/lucasnoah/converge/internal/prompt"
)

// ErrNoTerminal is returned by Interactive when stdin is not a terminal or no
// interactive command is configured.
var ErrNoTerminal = errors.New("interactive fallback needs a terminal and a configured command")

// PTY starts a command attached to a pseudo-terminal. Interface for testing.
type PTY interface {
	Start(cmd *exec.Cmd) (io.ReadWriteCloser, error)
}

// CreackPTY implements PTY with github.com/creack/pty, sized to the
// controlling terminal.
type CreackPTY struct{}

func (c *CreackPTY) Start(cmd *exec.Cmd) (io.ReadWriteCloser, error) {
	if cols, rows, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
		return pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	}
	return pty.Start(cmd)
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Interactive hands the failure to a human-supervised agent session on a pty
// and blocks until it exits or the agent timeout elapses. The session's exit
// status is not trusted; the caller re-runs the failing check.
func (a *Adapter) Interactive(ctx context.Context, req Request) error {
	if !a.InteractiveEnabled() || !a.opts.isTerminal() {
		return ErrNoTerminal
	}
	text, err := prompt.RenderNamed(prompt.Interactive, a.dir, prompt.Vars{
		"target":     req.Target(),
		"attempts":   strconv.Itoa(req.Attempt),
		"error_text": req.ErrorText,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.timeout)
	defer cancel()

	cmd := a.opts.factory(ctx, a.dir, a.opts.interactiveCommand, withPrompt(a.opts.interactiveArgs, text)...)
	f, err := a.opts.pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start interactive session: %w", err)
	}
	defer f.Close()

	done := make(chan struct{})
	defer close(done)
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if old, err := term.MakeRaw(fd); err == nil {
			defer term.Restore(fd, old)
		}
		pumpInput(f, os.Stdin, done)
	}
	io.Copy(os.Stdout, f)

	if err := cmd.Wait(); err != nil && ctx.Err() != nil {
		return fmt.Errorf("interactive session: %w", ctx.Err())
	}
	return nil
}

// pumpInput copies src to dst in the background until a read or write fails
// or done is closed. A read already blocked when done closes cannot be
// interrupted; its data is discarded and the goroutine exits. The returned
// channel closes when the goroutine has returned.
func pumpInput(dst io.Writer, src io.Reader, done <-chan struct{}) <-chan struct{} {
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		buf := make([]byte, 1024)
		for {
			n, err := src.Read(buf)
			select {
			case <-done:
				return
			default:
			}
			if n > 0 {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return exited
}
