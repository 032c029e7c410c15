package shell

import (
	"errors"
	"fmt"
	"io"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/osprey-os/userland/internal/cstr"
	"github.com/osprey-os/userland/internal/heap"
	"github.com/osprey-os/userland/internal/kernel"
	"github.com/osprey-os/userland/internal/proc"
)

// State is the shell's dispatch state.
type State uint8

const (
	// Running keeps the loop iterating.
	Running State = iota
	// Stopped is terminal; Run returns on the transition.
	Stopped
)

// Defaults for options left unset.
const (
	DefaultPrompt = "[osprey:/]$ "
	DefaultBinDir = "/bin/"
)

const (
	bannerText   = "osprey sh (running in userspace). Type a command then press enter.\n"
	notFoundText = "command not found\n"
	launchedText = "Started process with PID "
)

// Shell is one interactive session over a kernel and its heap.
type Shell struct {
	k        kernel.Kernel
	h        *heap.Heap
	launcher *proc.Launcher
	log      *zap.Logger

	state     State
	session   string
	prompt    string
	binDir    string
	readChunk uint64

	// Constant strings staged into the heap once at construction.
	exitWord uint64
	helpWord uint64
	promptA  uint64
	bannerA  uint64
	notFound uint64
	launched uint64
	newline  uint64
	binA     uint64
}

// Option configures a Shell.
type Option func(*Shell)

// WithLogger routes session logs through log.
func WithLogger(log *zap.Logger) Option {
	return func(s *Shell) { s.log = log }
}

// WithPrompt overrides the prompt text.
func WithPrompt(prompt string) Option {
	return func(s *Shell) { s.prompt = prompt }
}

// WithBinDir overrides the fixed directory commands are resolved under.
func WithBinDir(dir string) Option {
	return func(s *Shell) { s.binDir = dir }
}

// WithReadChunk overrides the line buffer growth increment.
func WithReadChunk(chunk uint64) Option {
	return func(s *Shell) { s.readChunk = chunk }
}

// WithLauncher substitutes the process launcher.
func WithLauncher(l *proc.Launcher) Option {
	return func(s *Shell) { s.launcher = l }
}

// New creates a shell and stages its fixed strings into the heap.
func New(k kernel.Kernel, h *heap.Heap, opts ...Option) (*Shell, error) {
	s := &Shell{
		k:       k,
		h:       h,
		log:     zap.NewNop(),
		state:   Running,
		session: "sess_" + ulid.Make().String(),
		prompt:  DefaultPrompt,
		binDir:  DefaultBinDir,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.launcher == nil {
		s.launcher = proc.NewLauncher(k, proc.WithLogger(s.log))
	}

	var err error
	stage := func(text string) uint64 {
		if err != nil {
			return 0
		}
		var addr uint64
		addr, err = cstr.New(h, text)
		return addr
	}
	s.exitWord = stage("exit")
	s.helpWord = stage("help")
	s.promptA = stage(s.prompt)
	s.bannerA = stage(bannerText)
	s.notFound = stage(notFoundText)
	s.launched = stage(launchedText)
	s.newline = stage("\n")
	s.binA = stage(s.binDir)
	if err != nil {
		return nil, fmt.Errorf("staging shell strings: %w", err)
	}
	return s, nil
}

// State reports the dispatch state.
func (s *Shell) State() State {
	return s.state
}

// Run iterates the loop until the state transitions to Stopped and returns
// the session's exit status. End of console input stops the loop as well:
// a shell whose console is gone has nothing left to read.
func (s *Shell) Run() int32 {
	s.log.Info("shell session started", zap.String("session_id", s.session))
	s.print(s.bannerA)

	for s.state == Running {
		s.print(s.promptA)

		line, err := cstr.ReadLine(s.h, s.k, kernel.Stdin, s.readChunk)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.state = Stopped
				break
			}
			s.log.Error("console read failed", zap.String("session_id", s.session), zap.Error(err))
			return 1
		}

		vec, err := cstr.Tokenize(s.h, line, ' ')
		if err != nil {
			s.log.Error("tokenize failed", zap.String("session_id", s.session), zap.Error(err))
			s.h.Release(line)
			return 1
		}

		s.dispatch(vec)

		s.h.Release(vec)
		s.h.Release(line)
	}

	s.log.Info("shell session stopped", zap.String("session_id", s.session))
	return 0
}

// dispatch routes one tokenized line. The vector's first entry decides:
// exit, help, or a process launch. An empty line is a no-op.
func (s *Shell) dispatch(vec uint64) {
	first := cstr.VecAt(s.h, vec, 0)
	if first == 0 {
		return
	}

	switch {
	case cstr.Equal(s.h, first, s.exitWord):
		s.state = Stopped
	case cstr.Equal(s.h, first, s.helpWord):
		s.print(s.bannerA)
	default:
		s.launch(vec, first)
	}
}

// launch rewrites the first token to its fixed search-path form and spawns
// it. The parent path reports the child pid and returns to the loop
// without waiting; reaping is deliberately absent.
func (s *Shell) launch(vec uint64, first uint64) {
	path, err := cstr.ConcatZ(s.h, s.binA, first)
	if err != nil {
		s.log.Error("command path allocation failed", zap.String("session_id", s.session), zap.Error(err))
		return
	}
	if err := s.h.SetWord(vec, path); err != nil {
		s.log.Error("argv rewrite failed", zap.String("session_id", s.session), zap.Error(err))
		s.h.Release(path)
		return
	}

	res := s.launcher.Spawn(path, vec, 0, func() { s.print(s.notFound) })
	switch res.State {
	case proc.StateLaunched:
		s.print(s.launched)
		s.printNumber(uint64(res.PID))
		s.print(s.newline)
		s.log.Info("command launched",
			zap.String("session_id", s.session),
			zap.String("path", cstr.GoString(s.h, path)),
			zap.Int64("pid", res.PID))
	case proc.StateFailed:
		s.print(s.notFound)
		s.log.Info("command not found",
			zap.String("session_id", s.session),
			zap.String("path", cstr.GoString(s.h, path)))
	case proc.StateChildFailed:
		// We are a terminated fork child; never re-enter the loop.
		s.state = Stopped
	}
	s.h.Release(path)
}

// print writes the staged string at addr to the console.
func (s *Shell) print(addr uint64) {
	n := cstr.Length(s.h, addr)
	if n == 0 {
		return
	}
	if ret := s.k.Write(kernel.Stdout, addr, n); kernel.IsError(ret) {
		s.log.Warn("console write failed",
			zap.String("session_id", s.session),
			zap.Int64("errno", kernel.Errno(ret)))
	}
}

// printNumber writes n in decimal to the console.
func (s *Shell) printNumber(n uint64) {
	addr, err := cstr.Itoa(s.h, n)
	if err != nil {
		s.log.Warn("number formatting failed", zap.String("session_id", s.session), zap.Error(err))
		return
	}
	s.print(addr)
	s.h.Release(addr)
}
