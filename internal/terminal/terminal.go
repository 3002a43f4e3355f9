// Package terminal bridges a PTY-backed shell to a session's terminal
// channels.
package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog"

	"github.com/sprite-ai/spritegate/internal/event"
	"github.com/sprite-ai/spritegate/internal/logging"
)

// Config selects the shell and initial window size.
type Config struct {
	Shell string
	Cols  uint16
	Rows  uint16
}

// DefaultConfig returns the standard 80x24 bash terminal.
func DefaultConfig() Config {
	return Config{Shell: "/bin/bash", Cols: 80, Rows: 24}
}

// Proc is one live PTY process. It implements the session's TerminalProc
// interface; output is pumped to the OnOutput callback from a dedicated
// reader goroutine.
type Proc struct {
	userKey string
	cmd     *exec.Cmd
	tty     *os.File

	// OnOutput receives raw PTY output. OnExit fires once when the shell
	// terminates for any reason.
	onOutput func([]byte)
	onExit   func()

	mu     sync.Mutex
	closed bool
	log    zerolog.Logger
}

// Start spawns the shell in workDir and begins pumping output. The shell
// gets a color-capable terminal environment.
func Start(userKey, workDir string, cfg Config, onOutput func([]byte), onExit func()) (*Proc, error) {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/bash"
	}
	if cfg.Cols == 0 {
		cfg.Cols = 80
	}
	if cfg.Rows == 0 {
		cfg.Rows = 24
	}

	cmd := exec.Command(cfg.Shell)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)

	tty, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cfg.Cols, Rows: cfg.Rows})
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", cfg.Shell, err)
	}

	p := &Proc{
		userKey:  userKey,
		cmd:      cmd,
		tty:      tty,
		onOutput: onOutput,
		onExit:   onExit,
		log:      logging.Component("terminal"),
	}

	p.log.Info().Str("user", userKey).Str("shell", cfg.Shell).Int("pid", cmd.Process.Pid).Msg("terminal started")
	event.Publish(event.Event{
		Type: event.TerminalStarted,
		Data: event.TerminalData{UserKey: userKey, PID: cmd.Process.Pid},
	})

	go p.pump()
	return p, nil
}

// pump copies PTY output to the callback until the shell exits or the PTY
// closes.
func (p *Proc) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := p.tty.Read(buf)
		if n > 0 && p.onOutput != nil {
			out := make([]byte, n)
			copy(out, buf[:n])
			p.onOutput(out)
		}
		if err != nil {
			break
		}
	}

	p.cmd.Wait()
	p.log.Info().Str("user", p.userKey).Msg("terminal exited")
	event.Publish(event.Event{
		Type: event.TerminalExited,
		Data: event.TerminalData{UserKey: p.userKey},
	})
	if p.onExit != nil {
		p.onExit()
	}
}

// Write sends input bytes to the shell.
func (p *Proc) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, fmt.Errorf("terminal closed")
	}
	return p.tty.Write(data)
}

// Resize sets the PTY window size.
func (p *Proc) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("terminal closed")
	}
	return pty.Setsize(p.tty, &pty.Winsize{Cols: cols, Rows: rows})
}

// Alive reports whether the shell process is still running.
func (p *Proc) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.cmd.Process == nil {
		return false
	}
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Close terminates the shell: SIGTERM, a short wait, then SIGKILL.
func (p *Proc) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.tty.Close()

	if proc := p.cmd.Process; proc != nil {
		proc.Signal(syscall.SIGTERM)
		for i := 0; i < 10; i++ {
			if proc.Signal(syscall.Signal(0)) != nil {
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		proc.Kill()
	}
	return nil
}
