package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/osprey-os/userland/internal/kernel"
)

const (
	// HeaderSize is the number of bytes stamped in front of every payload:
	// 8 bytes of payload size followed by 8 bytes of validity tag. A free
	// node (total size, next link) reuses the same 16 bytes.
	HeaderSize uint64 = 16

	// validTag marks a header as allocator-owned. Checked before trusting
	// the size field on release and resize.
	validTag uint64 = 0xdeadbeef
)

// ErrExhausted reports that the kernel refused to grow the break. There is
// no recovery: continuing would hand out addresses the process does not
// own.
var ErrExhausted = errors.New("heap: address space exhausted")

// Stats is a point-in-time snapshot of allocator activity.
type Stats struct {
	Allocations uint64
	Releases    uint64
	Grows       uint64
	LiveBytes   uint64
	FreeBytes   uint64
	FreeBlocks  uint64
	Start       uint64
	Break       uint64
}

// Heap is a process-wide allocator over one kernel's break primitive.
// Initialization is lazy: the heap start is the break observed on the
// first allocation. There is no teardown; the kernel reclaims the whole
// range at process exit.
type Heap struct {
	k   kernel.Kernel
	mem kernel.Memory
	log *zap.Logger

	start    uint64
	brk      uint64
	freeHead uint64

	// statsMu guards stats alone. The allocation path stays single-owner;
	// the mutex exists so a metrics scraper can snapshot a live heap.
	statsMu sync.Mutex
	stats   Stats
}

// Option configures a Heap.
type Option func(*Heap)

// WithLogger routes corruption diagnostics through log.
func WithLogger(log *zap.Logger) Option {
	return func(h *Heap) { h.log = log }
}

// New creates a heap over the given kernel and its process image.
func New(k kernel.Kernel, mem kernel.Memory, opts ...Option) *Heap {
	h := &Heap{k: k, mem: mem, log: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// init learns the heap start from the kernel on first use.
func (h *Heap) init() {
	if h.start != 0 {
		return
	}
	h.start = h.k.Brk(0)
	h.brk = h.start
	h.statsMu.Lock()
	h.stats.Start = h.start
	h.stats.Break = h.brk
	h.statsMu.Unlock()
}

// Allocate returns the address of a fresh payload of at least size bytes.
//
// The free list is scanned head to tail and the first block whose total
// capacity covers size plus the header is unlinked and reused (first-fit:
// allocation latency is favored over fragmentation). When nothing fits,
// the break grows by exactly size+HeaderSize, with no slack or rounding. A
// growth that does not land where requested returns ErrExhausted.
func (h *Heap) Allocate(size uint64) (uint64, error) {
	h.init()
	need := size + HeaderSize

	prev := uint64(0)
	for curr := h.freeHead; curr != 0; {
		nodeSize, err := h.Word(curr)
		if err != nil {
			h.log.Warn("free list walk left the heap range", zap.Uint64("node", curr))
			break
		}
		next, _ := h.Word(curr + 8)
		if nodeSize >= need {
			if prev != 0 {
				h.setWord(prev+8, next)
			} else {
				h.freeHead = next
			}
			h.stampHeader(curr, size)
			h.statsMu.Lock()
			h.stats.Allocations++
			h.stats.LiveBytes += size
			h.stats.FreeBytes -= nodeSize
			h.stats.FreeBlocks--
			h.statsMu.Unlock()
			return curr + HeaderSize, nil
		}
		prev = curr
		curr = next
	}

	want := h.brk + need
	got := h.k.Brk(want)
	if got != want {
		return 0, fmt.Errorf("break growth to %#x stopped at %#x: %w", want, got, ErrExhausted)
	}
	hdr := h.brk
	h.brk = got
	h.stampHeader(hdr, size)
	h.statsMu.Lock()
	h.stats.Allocations++
	h.stats.Grows++
	h.stats.LiveBytes += size
	h.stats.Break = h.brk
	h.statsMu.Unlock()
	return hdr + HeaderSize, nil
}

// Release returns a payload to the free list. A zero address is a no-op.
// A missing or corrupted validity tag is diagnosed and otherwise ignored:
// the allocator never aborts and never trusts an unverified header.
func (h *Heap) Release(addr uint64) {
	if addr == 0 {
		return
	}
	if addr < h.start+HeaderSize || addr > h.brk {
		h.log.Warn("release of address outside the heap range",
			zap.Uint64("addr", addr),
			zap.Uint64("start", h.start),
			zap.Uint64("break", h.brk))
		return
	}
	hdr := addr - HeaderSize
	size, err := h.Word(hdr)
	if err != nil {
		h.log.Warn("release of unreadable header", zap.Uint64("addr", addr))
		return
	}
	tag, _ := h.Word(hdr + 8)
	if tag != validTag {
		h.log.Warn("release of pointer without an allocation header",
			zap.Uint64("addr", addr),
			zap.Uint64("tag", tag))
		return
	}

	// The header becomes a free node: total size inclusive of the node
	// itself, linked at the head of the list.
	h.setWord(hdr, size+HeaderSize)
	h.setWord(hdr+8, h.freeHead)
	h.freeHead = hdr
	h.statsMu.Lock()
	h.stats.Releases++
	h.stats.LiveBytes -= size
	h.stats.FreeBytes += size + HeaderSize
	h.stats.FreeBlocks++
	h.statsMu.Unlock()
}

// Resize moves a payload into a fresh allocation of the requested size.
// Blocks are never resized in place. The first min(oldSize, size) bytes
// are carried over and the original payload is released. A corrupted
// source header is diagnosed and the source is left untouched: its size
// field cannot be trusted for the copy and its ownership cannot be proven
// for the release.
func (h *Heap) Resize(addr uint64, size uint64) (uint64, error) {
	fresh, err := h.Allocate(size)
	if err != nil {
		return 0, err
	}
	if addr == 0 {
		return fresh, nil
	}

	hdr := addr - HeaderSize
	oldSize, err := h.Word(hdr)
	if err != nil {
		h.log.Warn("resize of unreadable header", zap.Uint64("addr", addr))
		return fresh, nil
	}
	tag, _ := h.Word(hdr + 8)
	if tag != validTag {
		h.log.Warn("resize of pointer without an allocation header",
			zap.Uint64("addr", addr),
			zap.Uint64("tag", tag))
		return fresh, nil
	}

	n := oldSize
	if size < n {
		n = size
	}
	if n > 0 {
		src, serr := h.Bytes(addr, n)
		dst, derr := h.Bytes(fresh, n)
		if serr != nil || derr != nil {
			h.log.Warn("resize copy left the heap range", zap.Uint64("addr", addr))
			return fresh, nil
		}
		copy(dst, src)
	}
	h.Release(addr)
	return fresh, nil
}

// Bytes returns a view of [addr, addr+n) in the process image. The view
// aliases the image; writes through it are real.
func (h *Heap) Bytes(addr, n uint64) ([]byte, error) {
	return h.mem.View(addr, n)
}

// Span returns the view from addr to the current break, the widest range
// a terminator scan may legally touch.
func (h *Heap) Span(addr uint64) ([]byte, error) {
	if addr < h.start || addr > h.brk {
		return nil, fmt.Errorf("heap: address %#x outside [%#x,%#x)", addr, h.start, h.brk)
	}
	return h.mem.View(addr, h.brk-addr)
}

// Word reads an 8-byte little-endian value at addr.
func (h *Heap) Word(addr uint64) (uint64, error) {
	b, err := h.mem.View(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// SetWord writes an 8-byte little-endian value at addr.
func (h *Heap) SetWord(addr uint64, v uint64) error {
	b, err := h.mem.View(addr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// setWord is SetWord for addresses the allocator has already validated.
func (h *Heap) setWord(addr uint64, v uint64) {
	if err := h.SetWord(addr, v); err != nil {
		h.log.Error("heap metadata write failed", zap.Uint64("addr", addr), zap.Error(err))
	}
}

func (h *Heap) stampHeader(hdr uint64, size uint64) {
	h.setWord(hdr, size)
	h.setWord(hdr+8, validTag)
}

// Break reports the current break.
func (h *Heap) Break() uint64 {
	return h.brk
}

// Start reports the heap start, 0 before the first allocation.
func (h *Heap) Start() uint64 {
	return h.start
}

// Stats returns a snapshot of allocator counters. Unlike the allocation
// path, which has a single owner, Stats may be called from any goroutine.
func (h *Heap) Stats() Stats {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.stats
}
