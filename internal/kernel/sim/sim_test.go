package sim

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osprey-os/userland/internal/cstr"
	"github.com/osprey-os/userland/internal/heap"
	"github.com/osprey-os/userland/internal/kernel"
)

func newConsoleKernel(input string) (*Kernel, *bytes.Buffer) {
	var out bytes.Buffer
	k := New(WithLimit(1 << 20))
	k.RegisterDevice("/dev/console", strings.NewReader(input), &out)
	return k, &out
}

func TestOpenAssignsLowestFreeDescriptors(t *testing.T) {
	k, _ := newConsoleKernel("")
	h := heap.New(k, k)
	path, err := cstr.New(h, "/dev/console")
	require.NoError(t, err)

	assert.Equal(t, int64(0), k.Open(path, kernel.RDONLY))
	assert.Equal(t, int64(1), k.Open(path, kernel.WRONLY))
	assert.Equal(t, int64(2), k.Open(path, kernel.WRONLY))
}

func TestOpenUnknownDevice(t *testing.T) {
	k, _ := newConsoleKernel("")
	h := heap.New(k, k)
	path, err := cstr.New(h, "/dev/null")
	require.NoError(t, err)

	ret := k.Open(path, kernel.RDONLY)
	assert.True(t, kernel.IsError(ret))
}

func TestConsoleReadsAreLineBuffered(t *testing.T) {
	k, _ := newConsoleKernel("first\nsecond\n")
	h := heap.New(k, k)
	path, err := cstr.New(h, "/dev/console")
	require.NoError(t, err)
	fd := k.Open(path, kernel.RDONLY)

	buf, err := h.Allocate(64)
	require.NoError(t, err)

	n := k.Read(fd, buf, 64)
	require.Equal(t, int64(6), n, "one read returns at most one line")
	view, err := h.Bytes(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("first\n"), view)

	n = k.Read(fd, buf, 64)
	assert.Equal(t, int64(7), n)

	n = k.Read(fd, buf, 64)
	assert.Equal(t, int64(0), n, "end of input reads zero bytes")
}

func TestWriteReachesConsole(t *testing.T) {
	k, out := newConsoleKernel("")
	h := heap.New(k, k)
	path, err := cstr.New(h, "/dev/console")
	require.NoError(t, err)
	k.Open(path, kernel.RDONLY)
	fd := k.Open(path, kernel.WRONLY)

	msg, err := cstr.New(h, "hello")
	require.NoError(t, err)
	ret := k.Write(fd, msg, 5)
	require.Equal(t, int64(5), ret)
	assert.Equal(t, "hello", out.String())
}

func TestBadDescriptor(t *testing.T) {
	k, _ := newConsoleKernel("")
	assert.True(t, kernel.IsError(k.Read(7, k.Base(), 1)))
	assert.True(t, kernel.IsError(k.Write(7, k.Base(), 1)))
}

func TestBrkIsMonotone(t *testing.T) {
	k, _ := newConsoleKernel("")
	start := k.Brk(0)

	grown := k.Brk(start + 4096)
	assert.Equal(t, start+4096, grown)

	assert.Equal(t, grown, k.Brk(start), "the break never decreases")
	assert.Equal(t, grown, k.Brk(k.Base()+2<<20), "growth past the image limit is refused")
}

func TestForkIsUnsupported(t *testing.T) {
	k, _ := newConsoleKernel("")
	ret := k.Fork()
	assert.True(t, kernel.IsError(ret))
	assert.Equal(t, kernel.ENOSYS, kernel.Errno(ret))
}

func TestSpawnExecRunsProgramAndWaitReaps(t *testing.T) {
	k, _ := newConsoleKernel("")
	ran := make(chan []string, 1)
	k.Install("/bin/probe", func(p *Proc, args []string) int32 {
		ran <- args
		return 3
	})

	h := heap.New(k, k)
	path, err := cstr.New(h, "/bin/probe")
	require.NoError(t, err)
	arg, err := cstr.New(h, "x")
	require.NoError(t, err)
	argv, err := h.Allocate(24)
	require.NoError(t, err)
	require.NoError(t, h.SetWord(argv, path))
	require.NoError(t, h.SetWord(argv+8, arg))
	require.NoError(t, h.SetWord(argv+16, 0))

	pid := k.SpawnExec(path, argv, 0)
	require.False(t, kernel.IsError(pid))
	assert.Equal(t, []string{"/bin/probe", "x"}, <-ran)

	require.Equal(t, int64(0), k.Wait(kernel.PPID, pid))
	assert.Empty(t, k.Zombies(), "waited children are reaped")

	ret := k.Wait(kernel.PPID, pid)
	assert.Equal(t, kernel.ECHILD, kernel.Errno(ret), "a reaped pid is gone")
}

func TestUnwaitedChildrenStayZombies(t *testing.T) {
	k, _ := newConsoleKernel("")
	k.Install("/bin/true", func(p *Proc, args []string) int32 { return 0 })

	h := heap.New(k, k)
	path, err := cstr.New(h, "/bin/true")
	require.NoError(t, err)

	pid := k.SpawnExec(path, 0, 0)
	require.False(t, kernel.IsError(pid))

	require.Eventually(t, func() bool {
		for _, z := range k.Zombies() {
			if z == pid {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "a terminated, unwaited child stays a zombie")

	require.Equal(t, int64(0), k.Wait(kernel.PPID, pid))
	assert.Empty(t, k.Zombies())
}

func TestSpawnExecUnknownProgram(t *testing.T) {
	k, _ := newConsoleKernel("")
	ret := k.SpawnExec(0, 0, 0)
	assert.Equal(t, kernel.ENOENT, kernel.Errno(ret))
}

func TestBootRunsProgramAndReturnsStatus(t *testing.T) {
	k, _ := newConsoleKernel("")
	k.Install("/bin/init", func(p *Proc, args []string) int32 {
		assert.Equal(t, int64(1), p.PID())
		assert.Equal(t, []string{"/bin/init"}, args)
		return 7
	})

	assert.Equal(t, int32(7), k.Boot("/bin/init"))
}

func TestExecReplacesImageAndNeverReturns(t *testing.T) {
	k, _ := newConsoleKernel("")
	k.Install("/bin/next", func(p *Proc, args []string) int32 { return 9 })
	k.Install("/bin/init", func(p *Proc, args []string) int32 {
		h := heap.New(p.Kernel(), p.Memory())
		path, err := cstr.New(h, "/bin/next")
		require.NoError(t, err)
		p.Kernel().Exec(path, 0, 0)
		t.Error("exec returned on success")
		return 1
	})

	assert.Equal(t, int32(9), k.Boot("/bin/init"), "the exec'd program's status is the process status")
}

func TestExecUnknownProgramReturnsErrno(t *testing.T) {
	k, _ := newConsoleKernel("")
	k.Install("/bin/init", func(p *Proc, args []string) int32 {
		h := heap.New(p.Kernel(), p.Memory())
		path, err := cstr.New(h, "/bin/ghost")
		require.NoError(t, err)
		ret := p.Kernel().Exec(path, 0, 0)
		require.True(t, kernel.IsError(ret), "a failed exec returns to the caller")
		return 5
	})

	assert.Equal(t, int32(5), k.Boot("/bin/init"))
}

func TestExitUnwindsToBoot(t *testing.T) {
	k, _ := newConsoleKernel("")
	k.Install("/bin/init", func(p *Proc, args []string) int32 {
		p.Kernel().Exit(11)
		t.Error("exit returned")
		return 0
	})

	assert.Equal(t, int32(11), k.Boot("/bin/init"))
}

func TestExecFromSpawnedChildKeepsCallerProcess(t *testing.T) {
	k, _ := newConsoleKernel("")
	sawPID := make(chan int64, 1)
	k.Install("/bin/inner", func(p *Proc, args []string) int32 {
		sawPID <- p.PID()
		return 0
	})
	k.Install("/bin/outer", func(p *Proc, args []string) int32 {
		h := heap.New(p.Kernel(), p.Memory())
		path, err := cstr.New(h, "/bin/inner")
		require.NoError(t, err)
		p.Kernel().Exec(path, 0, 0)
		t.Error("exec returned on success")
		return 1
	})

	h := heap.New(k, k)
	path, err := cstr.New(h, "/bin/outer")
	require.NoError(t, err)

	pid := k.SpawnExec(path, 0, 0)
	require.False(t, kernel.IsError(pid))
	assert.Equal(t, pid, <-sawPID, "the exec'd program runs as its caller, not as pid 1")
	require.Equal(t, int64(0), k.Wait(kernel.PPID, pid))
}

func TestDirectExecBeforeBootIsInvalid(t *testing.T) {
	k, _ := newConsoleKernel("")
	k.Install("/bin/next", func(p *Proc, args []string) int32 { return 0 })

	h := heap.New(k, k)
	path, err := cstr.New(h, "/bin/next")
	require.NoError(t, err)

	ret := k.Exec(path, 0, 0)
	require.True(t, kernel.IsError(ret))
	assert.Equal(t, kernel.EINVAL, kernel.Errno(ret), "no process exists to replace yet")
}
