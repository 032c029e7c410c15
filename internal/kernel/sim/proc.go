package sim

import "github.com/osprey-os/userland/internal/kernel"

// Program is the entry point of an installed userspace binary. Programs
// receive their argument vector as Go strings, copied out of the caller's
// image by the exec that launched them, and return their exit status.
type Program func(p *Proc, args []string) int32

// procExit unwinds a terminating process to its runner.
type procExit struct {
	status int32
}

// Proc is the execution context handed to a running program.
type Proc struct {
	pid int64
	k   *Kernel
}

// PID returns the process identifier.
func (p *Proc) PID() int64 { return p.pid }

// Kernel returns the process's syscall surface. The entry is bound to the
// process so an exec is attributed to its actual caller.
func (p *Proc) Kernel() kernel.Kernel { return procKernel{Kernel: p.k, p: p} }

// Memory returns the process image.
func (p *Proc) Memory() kernel.Memory { return p.k }

// WriteString writes directly to one of the process's descriptors. It is
// a convenience for installed programs whose data lives in Go memory
// rather than in the image.
func (p *Proc) WriteString(fd int64, s string) error {
	return p.k.writeDirect(fd, []byte(s))
}

// procKernel is a per-process syscall entry. Every call resolves on the
// embedded kernel; Exec is overridden to carry the calling process, whose
// Proc the replacing program must receive.
type procKernel struct {
	*Kernel
	p *Proc
}

func (v procKernel) Exec(path, argv, envp uint64) int64 {
	return v.Kernel.exec(v.p, path, argv, envp)
}
