// Package executor runs task command lines through the system shell.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

// Defaults used by New.
const (
	DefaultShell          = "/bin/sh"
	DefaultSudo           = "sudo"
	DefaultPromptMarker   = "Password:"
	DefaultMaxStdoutLines = 20

	// Redacted replaces every occurrence of the credential in captured output.
	Redacted = "********"

	waitDelay = time.Second
)

// Shell executes commands with "<shell> -c <line>". Privileged commands are
// wrapped in "sudo -S" and receive the credential on stdin.
type Shell struct {
	// Shell is the interpreter used with -c.
	Shell string

	// Sudo is the elevation helper.
	Sudo string

	// PromptMarker is passed to sudo with -p and filtered from the output.
	PromptMarker string

	// MaxStdoutLines caps the stdout lines kept per command. Zero keeps all.
	MaxStdoutLines int

	// Timeout bounds each command. Zero disables the bound.
	Timeout time.Duration

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is appended to the inherited environment.
	Env []string

	logger zerolog.Logger
	euid   func() int
}

// Option configures a Shell.
type Option func(*Shell)

// WithTimeout bounds each command.
func WithTimeout(d time.Duration) Option {
	return func(s *Shell) { s.Timeout = d }
}

// WithMaxStdoutLines caps the kept stdout lines per command.
func WithMaxStdoutLines(n int) Option {
	return func(s *Shell) { s.MaxStdoutLines = n }
}

// WithDir sets the working directory.
func WithDir(dir string) Option {
	return func(s *Shell) { s.Dir = dir }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Shell) { s.logger = l.With().Str("component", "executor").Logger() }
}

// New creates a Shell with default settings.
func New(opts ...Option) *Shell {
	s := &Shell{
		Shell:          DefaultShell,
		Sudo:           DefaultSudo,
		PromptMarker:   DefaultPromptMarker,
		MaxStdoutLines: DefaultMaxStdoutLines,
		logger:         zerolog.Nop(),
		euid:           os.Geteuid,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs cmd and blocks until it exits. It never returns an error:
// a command that cannot be started yields Success=false, a nil ExitCode and Err.
func (s *Shell) Execute(ctx context.Context, cmd engine.Command, credential []byte) engine.ExecResult {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	c, stdin := s.build(ctx, cmd, credential)
	defer clear(stdin)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := engine.ExecResult{Duration: time.Since(start)}

	res.StdoutLines = s.filterStdout(stdout.Bytes(), credential)
	res.Stderr = s.filterStderr(stderr.Bytes(), credential)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		code := 0
		res.ExitCode = &code
		res.Success = true
	case errors.As(err, &exitErr):
		if code := exitErr.ExitCode(); code >= 0 {
			res.ExitCode = &code
		}
		if ctx.Err() != nil {
			res.Err = ctx.Err()
		}
	case errors.Is(err, exec.ErrWaitDelay):
		// The shell exited but a child still held the output pipes.
		if c.ProcessState != nil {
			if code := c.ProcessState.ExitCode(); code >= 0 {
				res.ExitCode = &code
			}
			if c.ProcessState.Success() && ctx.Err() == nil {
				res.Success = true
				break
			}
		}
		if ctx.Err() != nil {
			res.Err = engine.NewCommandError("command output still open after cancellation", err)
		}
	default:
		res.Err = engine.NewSpawnError("failed to start shell", err).WithCode(engine.ErrCodeShellUnavailable)
	}

	s.logger.Debug().
		Bool("privileged", cmd.Privileged).
		Bool("success", res.Success).
		Int("stdout_lines", len(res.StdoutLines)).
		Dur("duration", res.Duration).
		Msg("Command executed")

	return res
}

// build assembles the process. The returned stdin buffer holds the credential
// and must be cleared by the caller.
func (s *Shell) build(ctx context.Context, cmd engine.Command, credential []byte) (*exec.Cmd, []byte) {
	shell := s.Shell
	if shell == "" {
		shell = DefaultShell
	}

	var c *exec.Cmd
	var stdin []byte

	switch {
	case !cmd.Privileged || s.euid() == 0:
		c = exec.CommandContext(ctx, shell, "-c", cmd.Line)
	case len(credential) > 0:
		// sudo -S -p marker sh -c "command"
		c = exec.CommandContext(ctx, s.sudo(), "-S", "-p", s.marker(), shell, "-c", cmd.Line)
		stdin = make([]byte, 0, len(credential)+1)
		stdin = append(stdin, credential...)
		stdin = append(stdin, '\n')
		c.Stdin = bytes.NewReader(stdin)
	default:
		// NOPASSWD sudo
		c = exec.CommandContext(ctx, s.sudo(), "-n", shell, "-c", cmd.Line)
	}

	// Children that inherit the output pipes must not outlive a cancelled
	// context. Without one, Run waits for the pipes like any other caller.
	if ctx.Done() != nil {
		c.WaitDelay = waitDelay
	}

	if s.Dir != "" {
		c.Dir = s.Dir
	}
	if len(s.Env) > 0 {
		c.Env = append(os.Environ(), s.Env...)
	}
	return c, stdin
}

func (s *Shell) sudo() string {
	if s.Sudo == "" {
		return DefaultSudo
	}
	return s.Sudo
}

func (s *Shell) marker() string {
	if s.PromptMarker == "" {
		return DefaultPromptMarker
	}
	return s.PromptMarker
}

// filterStdout drops lines carrying the prompt marker, redacts the credential
// and keeps at most MaxStdoutLines lines.
func (s *Shell) filterStdout(out []byte, credential []byte) []string {
	marker := s.marker()
	var lines []string
	for _, line := range splitLines(out) {
		if strings.Contains(line, marker) {
			continue
		}
		lines = append(lines, redact(line, credential))
		if s.MaxStdoutLines > 0 && len(lines) == s.MaxStdoutLines {
			break
		}
	}
	return lines
}

// filterStderr removes the prompt marker (sudo prints it without a trailing
// newline, so it may prefix real output), redacts the credential and returns
// the remaining text as one block, or "" when nothing is left.
func (s *Shell) filterStderr(out []byte, credential []byte) string {
	marker := s.marker()
	var kept []string
	for _, line := range splitLines(out) {
		line = strings.ReplaceAll(line, marker, "")
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, redact(line, credential))
	}
	return strings.Join(kept, "\n")
}

func splitLines(out []byte) []string {
	text := strings.ToValidUTF8(string(out), "�")
	text = strings.TrimRight(text, "\r\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func redact(line string, credential []byte) string {
	if len(credential) == 0 {
		return line
	}
	return strings.ReplaceAll(line, string(credential), Redacted)
}
