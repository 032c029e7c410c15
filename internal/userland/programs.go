// Package userland holds the programs installed into the emulated kernel:
// the init bootstrap, the shell, and the argv-echo demo.
package userland

import (
	"strings"

	"go.uber.org/zap"

	"github.com/osprey-os/userland/internal/config"
	"github.com/osprey-os/userland/internal/cstr"
	"github.com/osprey-os/userland/internal/heap"
	"github.com/osprey-os/userland/internal/kernel"
	"github.com/osprey-os/userland/internal/kernel/sim"
	"github.com/osprey-os/userland/internal/shell"
)

// InitPath is where Init is installed; it is the program Boot runs.
const InitPath = "/bin/init"

// ShellPath is where the shell is installed; Init execs it.
const ShellPath = "/bin/sh"

// EchoPath is where the echo demo is installed.
const EchoPath = "/bin/echo"

// Init populates the first three descriptors by opening the console
// device three times (input, output, error) and replaces itself with the
// shell. It only returns if the exec failed.
func Init(consolePath string) sim.Program {
	return func(p *sim.Proc, args []string) int32 {
		k := p.Kernel()
		h := heap.New(k, p.Memory())

		console, err := cstr.New(h, consolePath)
		if err != nil {
			return 1
		}
		k.Open(console, kernel.RDONLY) // fd 0 -- stdin
		k.Open(console, kernel.WRONLY) // fd 1 -- stdout
		k.Open(console, kernel.WRONLY) // fd 2 -- stderr

		sh, err := cstr.New(h, ShellPath)
		if err != nil {
			return 1
		}
		argv, err := h.Allocate(16)
		if err != nil {
			return 1
		}
		if h.SetWord(argv, sh) != nil || h.SetWord(argv+8, 0) != nil {
			return 1
		}

		k.Exec(sh, argv, 0)
		return 1 // exec only returns on failure
	}
}

// ShellOptions configures the shell program.
type ShellOptions struct {
	Config *config.Config
	Logger *zap.Logger

	// OnHeap is called with the session heap once it exists, so the host
	// can attach monitoring to it. Optional.
	OnHeap func(*heap.Heap)
}

// Shell wraps the interactive shell as an installable program.
func Shell(opts ShellOptions) sim.Program {
	return func(p *sim.Proc, args []string) int32 {
		log := opts.Logger
		if log == nil {
			log = zap.NewNop()
		}
		cfg := opts.Config
		if cfg == nil {
			cfg = config.Default()
		}

		h := heap.New(p.Kernel(), p.Memory(), heap.WithLogger(log))
		if opts.OnHeap != nil {
			opts.OnHeap(h)
		}

		s, err := shell.New(p.Kernel(), h,
			shell.WithLogger(log),
			shell.WithPrompt(cfg.Shell.Prompt),
			shell.WithBinDir(cfg.Shell.BinDir),
			shell.WithReadChunk(cfg.Shell.ReadChunk),
		)
		if err != nil {
			log.Error("shell construction failed", zap.Error(err))
			return 1
		}
		return s.Run()
	}
}

// Echo writes its arguments separated by single spaces, newline
// terminated. A thin demo with no logic of its own.
func Echo(p *sim.Proc, args []string) int32 {
	if err := p.WriteString(kernel.Stdout, strings.Join(args[1:], " ")+"\n"); err != nil {
		return 1
	}
	return 0
}
