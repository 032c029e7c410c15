// Package kerneltest provides a scriptable kernel and process image for
// package tests. Console reads drain Input, console writes collect in
// Output, and fork/exec results are scripted per call so tests can steer
// the launcher down the parent or the child path.
package kerneltest

import (
	"bytes"
	"fmt"

	"github.com/osprey-os/userland/internal/kernel"
)

// DefaultBase keeps address 0 invalid so nil-pointer bugs surface.
const DefaultBase uint64 = 0x10000

// DefaultLimit is the image size backing the break primitive.
const DefaultLimit uint64 = 1 << 20

// OpenCall records one Open invocation.
type OpenCall struct {
	Path  string
	Flags int64
}

// ExecCall records one Exec or SpawnExec invocation with the argv strings
// copied out of the image at call time.
type ExecCall struct {
	Path string
	Argv []string
}

// Kernel is a scripted kernel.Kernel plus kernel.Memory. The zero scripting
// state behaves like a kernel with no programs and no children: Fork
// returns ENOSYS and Exec returns ENOENT.
type Kernel struct {
	image []byte
	base  uint64
	brk   uint64
	limit uint64

	// Input feeds Read on the stdin descriptor.
	Input bytes.Buffer
	// Output collects Write on the stdout and stderr descriptors.
	Output bytes.Buffer

	// ForkResults is consumed one entry per Fork call.
	ForkResults []int64
	// ExecResults is consumed one entry per Exec call.
	ExecResults []int64

	Opens  []OpenCall
	Execs  []ExecCall
	Forks  int
	Waits  []int64
	nextFD int64

	Exited     bool
	ExitStatus int32
}

// New returns a fake kernel with the default image geometry.
func New() *Kernel {
	return NewWithLimit(DefaultLimit)
}

// NewWithLimit returns a fake kernel whose break cannot grow past
// base+limit, for exhaustion tests.
func NewWithLimit(limit uint64) *Kernel {
	return &Kernel{
		image:  make([]byte, limit),
		base:   DefaultBase,
		brk:    DefaultBase,
		limit:  DefaultBase + limit,
		nextFD: 3,
	}
}

var _ kernel.Kernel = (*Kernel)(nil)
var _ kernel.Memory = (*Kernel)(nil)

// View implements kernel.Memory. Views alias the image.
func (k *Kernel) View(addr, n uint64) ([]byte, error) {
	if addr < k.base || addr+n > k.limit || addr+n < addr {
		return nil, fmt.Errorf("kerneltest: view [%#x,%#x) outside image [%#x,%#x)", addr, addr+n, k.base, k.limit)
	}
	off := addr - k.base
	return k.image[off : off+n], nil
}

// Base implements kernel.Memory.
func (k *Kernel) Base() uint64 { return k.base }

// Break reports the current break for assertions.
func (k *Kernel) Break() uint64 { return k.brk }

func (k *Kernel) Open(path uint64, flags int64) int64 {
	k.Opens = append(k.Opens, OpenCall{Path: k.cstring(path), Flags: flags})
	fd := k.nextFD
	k.nextFD++
	return fd
}

func (k *Kernel) Read(fd int64, buf uint64, n uint64) int64 {
	if fd != kernel.Stdin {
		return kernel.Err(kernel.EBADF)
	}
	dst, err := k.View(buf, n)
	if err != nil {
		return kernel.Err(kernel.EFAULT)
	}
	// Canonical-mode console: a read returns at most one line.
	got := 0
	for uint64(got) < n {
		c, rerr := k.Input.ReadByte()
		if rerr != nil {
			break
		}
		dst[got] = c
		got++
		if c == '\n' {
			break
		}
	}
	return int64(got)
}

func (k *Kernel) Write(fd int64, buf uint64, n uint64) int64 {
	if fd != kernel.Stdout && fd != kernel.Stderr {
		return kernel.Err(kernel.EBADF)
	}
	src, err := k.View(buf, n)
	if err != nil {
		return kernel.Err(kernel.EFAULT)
	}
	k.Output.Write(src)
	return int64(n)
}

func (k *Kernel) Exec(path, argv, envp uint64) int64 {
	k.Execs = append(k.Execs, ExecCall{Path: k.cstring(path), Argv: k.argv(argv)})
	if len(k.ExecResults) == 0 {
		return kernel.Err(kernel.ENOENT)
	}
	r := k.ExecResults[0]
	k.ExecResults = k.ExecResults[1:]
	return r
}

func (k *Kernel) Fork() int64 {
	k.Forks++
	if len(k.ForkResults) == 0 {
		return kernel.Err(kernel.ENOSYS)
	}
	r := k.ForkResults[0]
	k.ForkResults = k.ForkResults[1:]
	return r
}

func (k *Kernel) Wait(idType int64, id int64) int64 {
	k.Waits = append(k.Waits, id)
	return 0
}

func (k *Kernel) Brk(addr uint64) uint64 {
	if addr == 0 || addr < k.brk || addr > k.limit {
		return k.brk
	}
	k.brk = addr
	return k.brk
}

func (k *Kernel) Exit(status int32) {
	k.Exited = true
	k.ExitStatus = status
}

// cstring reads a NUL-terminated string out of the image. Unreadable
// addresses yield the empty string; the fake never aborts a test by
// panicking inside a syscall.
func (k *Kernel) cstring(addr uint64) string {
	if addr < k.base || addr >= k.limit {
		return ""
	}
	off := addr - k.base
	end := off
	for end < uint64(len(k.image)) && k.image[end] != 0 {
		end++
	}
	return string(k.image[off:end])
}

// argv reads a zero-terminated pointer vector out of the image.
func (k *Kernel) argv(addr uint64) []string {
	if addr == 0 {
		return nil
	}
	var out []string
	for i := uint64(0); ; i++ {
		w, err := k.View(addr+8*i, 8)
		if err != nil {
			return out
		}
		p := uint64(w[0]) | uint64(w[1])<<8 | uint64(w[2])<<16 | uint64(w[3])<<24 |
			uint64(w[4])<<32 | uint64(w[5])<<40 | uint64(w[6])<<48 | uint64(w[7])<<56
		if p == 0 {
			return out
		}
		out = append(out, k.cstring(p))
	}
}

// Fused wraps a Kernel with the fused launch capability so tests can
// exercise the SpawnExec path of the launcher.
type Fused struct {
	*Kernel

	// SpawnResults is consumed one entry per SpawnExec call.
	SpawnResults []int64
	Spawns       []ExecCall
}

var _ kernel.SpawnExecer = (*Fused)(nil)

func (f *Fused) SpawnExec(path, argv, envp uint64) int64 {
	f.Spawns = append(f.Spawns, ExecCall{Path: f.cstring(path), Argv: f.argv(argv)})
	if len(f.SpawnResults) == 0 {
		return kernel.Err(kernel.ENOENT)
	}
	r := f.SpawnResults[0]
	f.SpawnResults = f.SpawnResults[1:]
	return r
}
