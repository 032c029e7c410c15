package sim

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/osprey-os/userland/internal/kernel"
)

// DefaultBase keeps address 0 invalid inside the image.
const DefaultBase uint64 = 0x10000

// DefaultLimit is the default image size backing the break primitive.
const DefaultLimit uint64 = 64 << 20

type device struct {
	r *bufio.Reader
	w io.Writer
}

type openFile struct {
	dev   *device
	flags int64
}

type procState uint8

const (
	procRunning procState = iota
	procZombie
)

type process struct {
	pid    int64
	state  procState
	status int32
	done   chan struct{}
}

// Kernel is the emulated kernel. Construct with New, register devices and
// programs, then Boot an installed program as pid 1.
type Kernel struct {
	log *zap.Logger

	base  uint64
	limit uint64
	image []byte

	mu       sync.Mutex
	brk      uint64
	devices  map[string]*device
	fds      []openFile
	programs map[string]Program
	procs    map[int64]*process
	nextPID  int64
	boot     *Proc
}

// Option configures the emulator.
type Option func(*Kernel)

// WithLogger routes kernel diagnostics through log.
func WithLogger(log *zap.Logger) Option {
	return func(k *Kernel) { k.log = log }
}

// WithLimit sizes the process image, bounding break growth.
func WithLimit(limit uint64) Option {
	return func(k *Kernel) { k.limit = limit }
}

// New creates an emulated kernel with no devices and no programs.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		log:      zap.NewNop(),
		base:     DefaultBase,
		limit:    DefaultLimit,
		devices:  make(map[string]*device),
		programs: make(map[string]Program),
		procs:    make(map[int64]*process),
		nextPID:  2, // pid 1 is the boot process
	}
	for _, opt := range opts {
		opt(k)
	}
	k.image = make([]byte, k.limit)
	k.brk = k.base
	return k
}

var _ kernel.Kernel = (*Kernel)(nil)
var _ kernel.SpawnExecer = (*Kernel)(nil)
var _ kernel.Memory = (*Kernel)(nil)

// RegisterDevice exposes a reader/writer pair under a device path. Reads
// are line-buffered, matching a console in canonical mode: one read
// returns at most one line.
func (k *Kernel) RegisterDevice(path string, r io.Reader, w io.Writer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.devices[path] = &device{r: bufio.NewReader(r), w: w}
}

// Install registers a program under an absolute path.
func (k *Kernel) Install(path string, prog Program) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.programs[path] = prog
}

// View implements kernel.Memory. Views alias the image.
func (k *Kernel) View(addr, n uint64) ([]byte, error) {
	end := k.base + k.limit
	if addr < k.base || addr+n > end || addr+n < addr {
		return nil, fmt.Errorf("sim: view [%#x,%#x) outside image [%#x,%#x)", addr, addr+n, k.base, end)
	}
	off := addr - k.base
	return k.image[off : off+n], nil
}

// Base implements kernel.Memory.
func (k *Kernel) Base() uint64 { return k.base }

// Brk adjusts the program break. The break is monotone: requests below the
// current break or beyond the image limit leave it unchanged, and the
// caller detects the refusal by comparing the result with its request.
func (k *Kernel) Brk(addr uint64) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if addr == 0 || addr < k.brk || addr > k.base+k.limit {
		return k.brk
	}
	k.brk = addr
	return k.brk
}

// Open opens the device at the NUL-terminated path, returning the lowest
// free descriptor. Only registered devices can be opened; the emulator has
// no filesystem beyond them.
func (k *Kernel) Open(path uint64, flags int64) int64 {
	name := k.readString(path)
	k.mu.Lock()
	defer k.mu.Unlock()
	dev, ok := k.devices[name]
	if !ok {
		return kernel.Err(kernel.ENOENT)
	}
	k.fds = append(k.fds, openFile{dev: dev, flags: flags})
	fd := int64(len(k.fds) - 1)
	k.log.Debug("device opened", zap.String("path", name), zap.Int64("fd", fd))
	return fd
}

// Read reads up to n bytes into the image at buf. Console reads stop at a
// newline; a zero return means end of input.
func (k *Kernel) Read(fd int64, buf uint64, n uint64) int64 {
	file, errno := k.file(fd)
	if errno != 0 {
		return kernel.Err(errno)
	}
	dst, err := k.View(buf, n)
	if err != nil {
		return kernel.Err(kernel.EFAULT)
	}
	got := 0
	for uint64(got) < n {
		c, rerr := file.dev.r.ReadByte()
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

// Write writes n bytes from the image at buf.
func (k *Kernel) Write(fd int64, buf uint64, n uint64) int64 {
	file, errno := k.file(fd)
	if errno != 0 {
		return kernel.Err(errno)
	}
	src, err := k.View(buf, n)
	if err != nil {
		return kernel.Err(kernel.EFAULT)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, werr := file.dev.w.Write(src); werr != nil {
		return kernel.Err(kernel.EIO)
	}
	return int64(n)
}

// Exec replaces the calling image with the installed program at path. On
// success control never returns: the program runs on the caller's context
// and its status unwinds to the caller's runner. The direct kernel entry
// attributes the call to the boot process; programs reach their own
// process through Proc.Kernel.
func (k *Kernel) Exec(path, argv, envp uint64) int64 {
	k.mu.Lock()
	caller := k.boot
	k.mu.Unlock()
	return k.exec(caller, path, argv, envp)
}

func (k *Kernel) exec(caller *Proc, path, argv, envp uint64) int64 {
	name := k.readString(path)
	k.mu.Lock()
	prog, ok := k.programs[name]
	k.mu.Unlock()
	if !ok {
		return kernel.Err(kernel.ENOENT)
	}
	if caller == nil {
		return kernel.Err(kernel.EINVAL)
	}
	args := k.readArgv(argv)
	if len(args) == 0 {
		args = []string{name}
	}
	k.log.Debug("image replaced",
		zap.String("path", name),
		zap.Int64("pid", caller.pid),
		zap.Strings("args", args))
	panic(procExit{status: prog(caller, args)})
}

// Fork cannot duplicate an emulated process: the caller's instruction
// stream cannot be re-entered. Launchers fall back to SpawnExec.
func (k *Kernel) Fork() int64 {
	return kernel.Err(kernel.ENOSYS)
}

// SpawnExec launches the installed program at path as a new process on
// its own goroutine, returning the child pid. The argv strings are copied
// out of the image before the child starts; parent and child never share
// mutable image state afterwards.
func (k *Kernel) SpawnExec(path, argv, envp uint64) int64 {
	name := k.readString(path)
	args := k.readArgv(argv)
	if len(args) == 0 {
		args = []string{name}
	}

	k.mu.Lock()
	prog, ok := k.programs[name]
	if !ok {
		k.mu.Unlock()
		return kernel.Err(kernel.ENOENT)
	}
	pid := k.nextPID
	k.nextPID++
	pr := &process{pid: pid, done: make(chan struct{})}
	k.procs[pid] = pr
	k.mu.Unlock()

	child := &Proc{pid: pid, k: k}
	go func() {
		defer close(pr.done)
		defer func() {
			k.mu.Lock()
			pr.state = procZombie
			k.mu.Unlock()
			if r := recover(); r != nil {
				e, ok := r.(procExit)
				if !ok {
					panic(r)
				}
				pr.status = e.status
			}
		}()
		pr.status = prog(child, args)
	}()

	k.log.Debug("process spawned", zap.String("path", name), zap.Int64("pid", pid))
	return pid
}

// Wait blocks until the identified process exits, reaps it, and removes
// it from the process table. Children nobody waits for stay zombies.
func (k *Kernel) Wait(idType int64, id int64) int64 {
	if idType != kernel.PPID {
		return kernel.Err(kernel.EINVAL)
	}
	k.mu.Lock()
	pr, ok := k.procs[id]
	k.mu.Unlock()
	if !ok {
		return kernel.Err(kernel.ECHILD)
	}
	<-pr.done
	k.mu.Lock()
	delete(k.procs, id)
	k.mu.Unlock()
	return 0
}

// Exit terminates the calling process; the status unwinds to the process
// runner. It does not return.
func (k *Kernel) Exit(status int32) {
	panic(procExit{status: status})
}

// Boot runs the installed program at path as pid 1 on the calling
// goroutine and returns its exit status. Exec chains started by the boot
// program unwind back here.
func (k *Kernel) Boot(path string, args ...string) (status int32) {
	k.mu.Lock()
	prog, ok := k.programs[path]
	k.mu.Unlock()
	if !ok {
		k.log.Error("boot program not installed", zap.String("path", path))
		return 127
	}
	p := &Proc{pid: 1, k: k}
	k.mu.Lock()
	k.boot = p
	k.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(procExit)
			if !ok {
				panic(r)
			}
			status = e.status
		}
	}()
	return prog(p, append([]string{path}, args...))
}

// Zombies lists terminated processes nobody has waited for.
func (k *Kernel) Zombies() []int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []int64
	for pid, pr := range k.procs {
		if pr.state == procZombie {
			out = append(out, pid)
		}
	}
	return out
}

func (k *Kernel) file(fd int64) (openFile, int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if fd < 0 || fd >= int64(len(k.fds)) {
		return openFile{}, kernel.EBADF
	}
	return k.fds[fd], 0
}

func (k *Kernel) readString(addr uint64) string {
	if addr < k.base || addr >= k.base+k.limit {
		return ""
	}
	off := addr - k.base
	end := off
	for end < uint64(len(k.image)) && k.image[end] != 0 {
		end++
	}
	return string(k.image[off:end])
}

func (k *Kernel) readArgv(addr uint64) []string {
	if addr == 0 {
		return nil
	}
	var out []string
	for i := uint64(0); ; i++ {
		w, err := k.View(addr+8*i, 8)
		if err != nil {
			return out
		}
		p := binary.LittleEndian.Uint64(w)
		if p == 0 {
			return out
		}
		out = append(out, k.readString(p))
	}
}

// writeDirect is the kernel-side device write used by Proc.WriteString for
// program data that does not live in the image.
func (k *Kernel) writeDirect(fd int64, b []byte) error {
	file, errno := k.file(fd)
	if errno != 0 {
		return fmt.Errorf("sim: write on fd %d: errno %d", fd, errno)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	_, err := file.dev.w.Write(b)
	return err
}
