//go:build linux

// Package host backs the kernel interface with real Linux syscalls. The
// process image is an anonymous mmap'd arena: Brk moves a soft break inside
// it, and path/buffer addresses index into the arena rather than host
// virtual memory.
package host

import (
	"errors"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/osprey-os/userland/internal/kernel"
)

// DefaultLimit bounds the arena when no limit is configured.
const DefaultLimit uint64 = 64 << 20

// Kernel routes the syscall surface to the host. Fork alone is refused:
// the Go runtime cannot survive a bare fork, so launching goes through
// SpawnExec.
type Kernel struct {
	mu    sync.Mutex
	arena []byte
	base  uint64
	brk   uint64
}

// Option configures a host kernel.
type Option func(*config)

type config struct {
	limit uint64
}

// WithLimit caps the arena size in bytes.
func WithLimit(n uint64) Option {
	return func(c *config) {
		if n > 0 {
			c.limit = n
		}
	}
}

// New maps the arena and returns a ready kernel.
func New(opts ...Option) (*Kernel, error) {
	cfg := config{limit: DefaultLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	arena, err := unix.Mmap(-1, 0, int(cfg.limit),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	k := &Kernel{arena: arena}
	// Address 0 is reserved so a zero pointer is never a valid image
	// address. The soft break starts one page in.
	k.base = 0x1000
	k.brk = k.base
	return k, nil
}

// Close unmaps the arena.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.arena == nil {
		return nil
	}
	err := unix.Munmap(k.arena)
	k.arena = nil
	return err
}

// View implements kernel.Memory.
func (k *Kernel) View(addr, n uint64) ([]byte, error) {
	if addr < k.base || addr+n > uint64(len(k.arena)) || addr+n < addr {
		return nil, errors.New("address range outside image")
	}
	return k.arena[addr : addr+n], nil
}

// Base implements kernel.Memory.
func (k *Kernel) Base() uint64 { return k.base }

// Brk moves the soft break inside the arena. The break is monotone:
// requests below the current break or past the arena end leave it
// unchanged, which callers observe as a refused growth.
func (k *Kernel) Brk(addr uint64) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if addr >= k.brk && addr <= uint64(len(k.arena)) {
		k.brk = addr
	}
	return k.brk
}

// Open opens the NUL-terminated host path at the image address.
func (k *Kernel) Open(path uint64, flags int64) int64 {
	p, err := k.str(path)
	if err != nil {
		return kernel.Err(kernel.EFAULT)
	}
	fd, err := unix.Open(p, int(flags), 0)
	if err != nil {
		return errnoResult(err)
	}
	return int64(fd)
}

// Read reads from a host descriptor into the image.
func (k *Kernel) Read(fd int64, buf uint64, n uint64) int64 {
	b, err := k.View(buf, n)
	if err != nil {
		return kernel.Err(kernel.EFAULT)
	}
	got, err := unix.Read(int(fd), b)
	if err != nil {
		return errnoResult(err)
	}
	return int64(got)
}

// Write writes image bytes to a host descriptor.
func (k *Kernel) Write(fd int64, buf uint64, n uint64) int64 {
	b, err := k.View(buf, n)
	if err != nil {
		return kernel.Err(kernel.EFAULT)
	}
	wrote, err := unix.Write(int(fd), b)
	if err != nil {
		return errnoResult(err)
	}
	return int64(wrote)
}

// Exec replaces the host process. On success it does not return.
func (k *Kernel) Exec(path, argv, envp uint64) int64 {
	p, args, env, bad := k.execArgs(path, argv, envp)
	if bad != 0 {
		return bad
	}
	if err := syscall.Exec(p, args, env); err != nil {
		return errnoResult(err)
	}
	return 0
}

// Fork is refused: the Go runtime does not survive a bare fork.
func (k *Kernel) Fork() int64 {
	return kernel.Err(kernel.ENOSYS)
}

// SpawnExec launches the program as a child sharing the standard
// descriptors and returns its pid.
func (k *Kernel) SpawnExec(path, argv, envp uint64) int64 {
	p, args, env, bad := k.execArgs(path, argv, envp)
	if bad != 0 {
		return bad
	}
	pid, err := syscall.ForkExec(p, args, &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{0, 1, 2},
	})
	if err != nil {
		return errnoResult(err)
	}
	return int64(pid)
}

// Wait blocks until the identified child exits and reaps it.
func (k *Kernel) Wait(idType int64, id int64) int64 {
	if idType != kernel.PPID {
		return kernel.Err(kernel.EINVAL)
	}
	var info unix.Siginfo
	if err := unix.Waitid(unix.P_PID, int(id), &info, unix.WEXITED, nil); err != nil {
		return errnoResult(err)
	}
	// unix.Siginfo does not expose si_pid; with P_PID the reaped pid is id.
	return id
}

// Exit terminates the host process.
func (k *Kernel) Exit(status int32) {
	unix.Exit(int(status))
}

// str reads the NUL-terminated string at addr.
func (k *Kernel) str(addr uint64) (string, error) {
	if addr < k.base || addr >= uint64(len(k.arena)) {
		return "", errors.New("address outside image")
	}
	for end := addr; end < uint64(len(k.arena)); end++ {
		if k.arena[end] == 0 {
			return string(k.arena[addr:end]), nil
		}
	}
	return "", errors.New("unterminated string")
}

// vec reads a zero-terminated array of 8-byte pointers and resolves each
// entry to its string.
func (k *Kernel) vec(addr uint64) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}
	var out []string
	for {
		b, err := k.View(addr, 8)
		if err != nil {
			return nil, err
		}
		var ptr uint64
		for i := 7; i >= 0; i-- {
			ptr = ptr<<8 | uint64(b[i])
		}
		if ptr == 0 {
			return out, nil
		}
		s, err := k.str(ptr)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		addr += 8
	}
}

func (k *Kernel) execArgs(path, argv, envp uint64) (string, []string, []string, int64) {
	p, err := k.str(path)
	if err != nil {
		return "", nil, nil, kernel.Err(kernel.EFAULT)
	}
	args, err := k.vec(argv)
	if err != nil {
		return "", nil, nil, kernel.Err(kernel.EFAULT)
	}
	env, err := k.vec(envp)
	if err != nil {
		return "", nil, nil, kernel.Err(kernel.EFAULT)
	}
	return p, args, env, 0
}

// errnoResult maps a unix error to the reserved band.
func errnoResult(err error) int64 {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return kernel.Err(int64(errno))
	}
	return kernel.Err(kernel.EIO)
}
