package cstr

import (
	"fmt"
	"io"

	"github.com/osprey-os/userland/internal/heap"
	"github.com/osprey-os/userland/internal/kernel"
)

// DefaultReadChunk is the growth increment ReadLine uses when the caller
// passes 0.
const DefaultReadChunk uint64 = 100

// Length counts the bytes of the string at addr up to (not including) its
// NUL terminator. A zero address has length zero. The scan is bounded by
// the current break.
func Length(h *heap.Heap, addr uint64) uint64 {
	if addr == 0 {
		return 0
	}
	span, err := h.Span(addr)
	if err != nil {
		return 0
	}
	for i, b := range span {
		if b == 0 {
			return uint64(i)
		}
	}
	return uint64(len(span))
}

// Equal reports whether the strings at a and b hold the same bytes and
// terminate simultaneously. It is false whenever either address is zero.
func Equal(h *heap.Heap, a, b uint64) bool {
	if a == 0 || b == 0 {
		return false
	}
	sa, err := h.Span(a)
	if err != nil {
		return false
	}
	sb, err := h.Span(b)
	if err != nil {
		return false
	}
	for i := 0; ; i++ {
		var ca, cb byte
		if i < len(sa) {
			ca = sa[i]
		}
		if i < len(sb) {
			cb = sb[i]
		}
		if ca != cb {
			return false
		}
		if ca == 0 {
			return true
		}
	}
}

// Concat allocates a buffer of len(a)+len(b) bytes holding a followed by
// b. No terminator is appended; callers needing a terminated result must
// account for that (or use ConcatZ).
func Concat(h *heap.Heap, a, b uint64) (uint64, error) {
	return concat(h, a, b, false)
}

// ConcatZ is Concat with a NUL terminator appended, sized accordingly.
func ConcatZ(h *heap.Heap, a, b uint64) (uint64, error) {
	return concat(h, a, b, true)
}

func concat(h *heap.Heap, a, b uint64, terminated bool) (uint64, error) {
	lena := Length(h, a)
	lenb := Length(h, b)
	size := lena + lenb
	if terminated {
		size++
	}
	out, err := h.Allocate(size)
	if err != nil {
		return 0, err
	}
	dst, err := h.Bytes(out, size)
	if err != nil {
		h.Release(out)
		return 0, err
	}
	if lena > 0 {
		src, err := h.Bytes(a, lena)
		if err != nil {
			h.Release(out)
			return 0, err
		}
		copy(dst, src)
	}
	if lenb > 0 {
		src, err := h.Bytes(b, lenb)
		if err != nil {
			h.Release(out)
			return 0, err
		}
		copy(dst[lena:], src)
	}
	if terminated {
		dst[size-1] = 0
	}
	return out, nil
}

// Tokenize destructively splits the string at buf: every run of delim is
// overwritten with NUL terminators in place, and a heap-allocated vector
// of 8-byte pointers is built, one entry per non-empty token, always
// terminated by a zero entry. Tokens are views into buf, so the vector is
// only meaningful while buf lives. The caller owns the returned vector.
func Tokenize(h *heap.Heap, buf uint64, delim byte) (uint64, error) {
	span, err := h.Span(buf)
	if err != nil {
		return 0, err
	}

	var vec uint64
	var count uint64
	push := func(p uint64) error {
		count++
		grown, err := h.Resize(vec, count*8)
		if err != nil {
			return err
		}
		vec = grown
		return h.SetWord(vec+(count-1)*8, p)
	}

	i := 0
	for i < len(span) && span[i] != 0 {
		for i < len(span) && span[i] == delim {
			span[i] = 0
			i++
		}
		if i >= len(span) || span[i] == 0 {
			break
		}
		if err := push(buf + uint64(i)); err != nil {
			return 0, err
		}
		for i < len(span) && span[i] != delim && span[i] != 0 {
			i++
		}
	}
	if err := push(0); err != nil {
		return 0, err
	}
	return vec, nil
}

// VecAt reads entry i of a pointer vector. The terminating entry and any
// out-of-range index read as 0.
func VecAt(h *heap.Heap, vec uint64, i int) uint64 {
	if vec == 0 || i < 0 {
		return 0
	}
	w, err := h.Word(vec + uint64(i)*8)
	if err != nil {
		return 0
	}
	return w
}

// VecLen counts entries before the terminating zero.
func VecLen(h *heap.Heap, vec uint64) int {
	n := 0
	for VecAt(h, vec, n) != 0 {
		n++
	}
	return n
}

// ReadLine reads one line from fd into a fresh heap buffer, growing it in
// chunk-sized increments and issuing each read into the newly grown tail.
// Reading stops at a newline, a NUL byte, or a zero-byte read (end of
// input). One trailing newline is stripped; a partial line at end of input
// is returned as accumulated. The result is NUL-terminated. io.EOF is
// returned when the input ends before any byte arrives.
func ReadLine(h *heap.Heap, k kernel.Kernel, fd int64, chunk uint64) (uint64, error) {
	if chunk == 0 {
		chunk = DefaultReadChunk
	}

	var line, size, capacity uint64
	for {
		grown, err := h.Resize(line, size+chunk)
		if err != nil {
			h.Release(line)
			return 0, err
		}
		line = grown
		capacity = size + chunk

		n := k.Read(fd, line+size, chunk)
		if kernel.IsError(n) {
			h.Release(line)
			return 0, fmt.Errorf("read fd %d failed with errno %d", fd, kernel.Errno(n))
		}
		if n == 0 {
			if size == 0 {
				h.Release(line)
				return 0, io.EOF
			}
			break
		}
		size += uint64(n)

		last, err := h.Bytes(line+size-1, 1)
		if err != nil {
			h.Release(line)
			return 0, err
		}
		if last[0] == '\n' || last[0] == 0 {
			break
		}
	}

	// Strip one trailing newline, then terminate.
	buf, err := h.Bytes(line, size)
	if err != nil {
		h.Release(line)
		return 0, err
	}
	if size > 0 && buf[size-1] == '\n' {
		buf[size-1] = 0
		return line, nil
	}
	if size == capacity {
		grown, err := h.Resize(line, size+1)
		if err != nil {
			h.Release(line)
			return 0, err
		}
		line = grown
	}
	tail, err := h.Bytes(line+size, 1)
	if err != nil {
		h.Release(line)
		return 0, err
	}
	tail[0] = 0
	return line, nil
}

// Itoa formats n in decimal as a fresh NUL-terminated string.
func Itoa(h *heap.Heap, n uint64) (uint64, error) {
	// 20 digits cover the uint64 range, plus the terminator.
	out, err := h.Allocate(21)
	if err != nil {
		return 0, err
	}
	buf, err := h.Bytes(out, 21)
	if err != nil {
		return 0, err
	}

	i := 0
	for {
		buf[i] = '0' + byte(n%10)
		i++
		n /= 10
		if n == 0 {
			break
		}
	}
	for j := 0; j < i/2; j++ {
		buf[j], buf[i-j-1] = buf[i-j-1], buf[j]
	}
	buf[i] = 0
	return out, nil
}

// New stages a Go string into a fresh NUL-terminated heap string.
func New(h *heap.Heap, s string) (uint64, error) {
	addr, err := h.Allocate(uint64(len(s)) + 1)
	if err != nil {
		return 0, err
	}
	buf, err := h.Bytes(addr, uint64(len(s))+1)
	if err != nil {
		return 0, err
	}
	copy(buf, s)
	buf[len(s)] = 0
	return addr, nil
}

// GoString copies the string at addr back out of the image.
func GoString(h *heap.Heap, addr uint64) string {
	n := Length(h, addr)
	if n == 0 {
		return ""
	}
	b, err := h.Bytes(addr, n)
	if err != nil {
		return ""
	}
	return string(b)
}
