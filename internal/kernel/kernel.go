package kernel

// Open flags understood by every kernel implementation.
const (
	RDONLY int64 = 0x0
	WRONLY int64 = 0x1
	RDWR   int64 = 0x2
)

// Standard descriptors. They exist only after the boot program has opened
// the console device three times.
const (
	Stdin  int64 = 0
	Stdout int64 = 1
	Stderr int64 = 2
)

// PPID selects a single process id for Wait.
const PPID int64 = 1

// Errno values implementations may place in the reserved band. Callers
// classify with IsError and never branch on specific values.
const (
	ENOENT int64 = 2
	EIO    int64 = 5
	EBADF  int64 = 9
	ECHILD int64 = 10
	ENOMEM int64 = 12
	EFAULT int64 = 14
	EINVAL int64 = 22
	ENOSYS int64 = 38
)

// maxErrno bounds the reserved error band.
const maxErrno int64 = 4095

// IsError reports whether a raw syscall result lies in the reserved
// negative-magnitude band. The interface detects errors; it does not
// decode them.
func IsError(v int64) bool {
	return v <= -1 && v >= -maxErrno
}

// Errno recovers the positive errno carried by a band value.
func Errno(v int64) int64 {
	return -v
}

// Err places an errno in the reserved band.
func Err(errno int64) int64 {
	return -errno
}

// Kernel is the typed wrapper over the raw kernel entry points. Every
// method is a direct, unchecked pass-through: results are raw int64 values
// classified with IsError by the caller.
//
// All path and buffer parameters are addresses into the process image
// (see Memory). An argv or envp parameter is the address of an array of
// 8-byte little-endian pointers terminated by a zero entry; 0 means "no
// vector".
type Kernel interface {
	// Open opens the object at the NUL-terminated path and returns the
	// lowest free descriptor.
	Open(path uint64, flags int64) int64

	// Read reads up to n bytes into the image at buf, returning the byte
	// count. A zero return means end of input.
	Read(fd int64, buf uint64, n uint64) int64

	// Write writes n bytes from the image at buf.
	Write(fd int64, buf uint64, n uint64) int64

	// Exec replaces the calling process image with the program at path.
	// It does not return on success.
	Exec(path, argv, envp uint64) int64

	// Fork duplicates the calling process, returning the child pid in the
	// parent and 0 in the child. Kernels that cannot split duplication
	// from image replacement return ENOSYS and advertise SpawnExecer.
	Fork() int64

	// Wait blocks until the identified process exits and reaps it.
	Wait(idType int64, id int64) int64

	// Brk adjusts the program break. Brk(0) queries the current break.
	// The returned value is the break after the call; growth that did not
	// land where requested is detected by comparing the two.
	Brk(addr uint64) uint64

	// Exit terminates the calling process. It does not return.
	Exit(status int32)
}

// SpawnExecer is implemented by kernels that fuse process duplication and
// image replacement into a single launch operation (the Go host runtime
// cannot survive a bare fork, and emulated processes cannot re-enter the
// caller's instruction stream). It returns the child pid or an errno band
// value when the program cannot be launched.
type SpawnExecer interface {
	SpawnExec(path, argv, envp uint64) int64
}

// Memory is byte-addressed access to a process image. Views alias the
// underlying image: writes through a returned slice are visible to the
// kernel and to later views.
type Memory interface {
	// View returns the image bytes in [addr, addr+n).
	View(addr, n uint64) ([]byte, error)

	// Base returns the lowest valid image address.
	Base() uint64
}
