// Package proc is the process-control layer between the shell and the
// kernel: launching a command yields an explicit {Launched|Failed} result
// instead of a bare pid, and reaping is a separate, optional operation so
// "launched" is never conflated with "completed".
package proc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/osprey-os/userland/internal/kernel"
)

// State classifies the outcome of Spawn.
type State uint8

const (
	// StateFailed means no child is running: the fork or the fused launch
	// was refused by the kernel.
	StateFailed State = iota

	// StateLaunched means a child exists and has not been waited for.
	// Exec may still fail inside the child; the parent is not told.
	StateLaunched

	// StateChildFailed is returned on the child side of a split fork when
	// exec failed: the failure hook has run and the child has been
	// terminated. Code receiving this state is in a dead process and must
	// not continue the caller's loop.
	StateChildFailed
)

// Result describes a launch attempt.
type Result struct {
	State State
	PID   int64
}

// Launcher spawns child processes through a kernel.
type Launcher struct {
	k   kernel.Kernel
	log *zap.Logger
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithLogger routes launch diagnostics through log.
func WithLogger(log *zap.Logger) Option {
	return func(l *Launcher) { l.log = log }
}

// NewLauncher creates a launcher over k.
func NewLauncher(k kernel.Kernel, opts ...Option) *Launcher {
	l := &Launcher{k: k, log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Spawn launches the program at path with the given argument vector.
//
// Kernels advertising the fused capability launch in one step. Otherwise
// the canonical sequence runs: fork, then exec in the child. Exec only
// returns on failure; in that case the child runs onExecFail (typically
// printing a diagnostic) and terminates. It never returns into the
// parent's loop. The parent is not told about a child-side exec failure;
// it sees StateLaunched as soon as the fork succeeds.
func (l *Launcher) Spawn(path, argv, envp uint64, onExecFail func()) Result {
	if fused, ok := l.k.(kernel.SpawnExecer); ok {
		pid := fused.SpawnExec(path, argv, envp)
		if kernel.IsError(pid) {
			return Result{State: StateFailed}
		}
		return Result{State: StateLaunched, PID: pid}
	}

	pid := l.k.Fork()
	if kernel.IsError(pid) {
		l.log.Warn("fork refused", zap.Int64("errno", kernel.Errno(pid)))
		return Result{State: StateFailed}
	}
	if pid == 0 {
		// Child. A returning exec is a failed exec.
		l.k.Exec(path, argv, envp)
		if onExecFail != nil {
			onExecFail()
		}
		l.k.Exit(127)
		return Result{State: StateChildFailed}
	}
	return Result{State: StateLaunched, PID: pid}
}

// Reap collects the exit of a previously launched child. The shell never
// calls it in the canonical flow; it exists so callers that do care about
// completion can express it.
func (l *Launcher) Reap(pid int64) error {
	ret := l.k.Wait(kernel.PPID, pid)
	if kernel.IsError(ret) {
		return fmt.Errorf("wait for pid %d failed with errno %d", pid, kernel.Errno(ret))
	}
	return nil
}
