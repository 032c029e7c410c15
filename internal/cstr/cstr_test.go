package cstr

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osprey-os/userland/internal/heap"
	"github.com/osprey-os/userland/internal/kernel"
	"github.com/osprey-os/userland/internal/kernel/kerneltest"
)

func newTestHeap(t *testing.T) (*heap.Heap, *kerneltest.Kernel) {
	t.Helper()
	k := kerneltest.New()
	return heap.New(k, k), k
}

func mustNew(t *testing.T, h *heap.Heap, s string) uint64 {
	t.Helper()
	addr, err := New(h, s)
	require.NoError(t, err)
	return addr
}

func TestLength(t *testing.T) {
	h, _ := newTestHeap(t)

	assert.Equal(t, uint64(0), Length(h, 0), "null input yields zero")
	assert.Equal(t, uint64(0), Length(h, mustNew(t, h, "")))
	assert.Equal(t, uint64(5), Length(h, mustNew(t, h, "hello")))
}

func TestEqual(t *testing.T) {
	h, _ := newTestHeap(t)

	a := mustNew(t, h, "exit")
	b := mustNew(t, h, "exit")
	c := mustNew(t, h, "exi")
	d := mustNew(t, h, "exits")

	assert.True(t, Equal(h, a, b))
	assert.False(t, Equal(h, a, c), "shorter string terminates first")
	assert.False(t, Equal(h, a, d), "longer string keeps going")
	assert.False(t, Equal(h, 0, a), "null is never equal")
	assert.False(t, Equal(h, a, 0))
}

func TestConcat(t *testing.T) {
	h, _ := newTestHeap(t)

	a := mustNew(t, h, "/bin/")
	b := mustNew(t, h, "ls")

	out, err := Concat(h, a, b)
	require.NoError(t, err)
	got, err := h.Bytes(out, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("/bin/ls"), got, "a then b, no terminator accounted in the size")
}

func TestConcatZ(t *testing.T) {
	h, _ := newTestHeap(t)

	a := mustNew(t, h, "/bin/")
	b := mustNew(t, h, "ls")

	out, err := ConcatZ(h, a, b)
	require.NoError(t, err)
	assert.Equal(t, "/bin/ls", GoString(h, out))
	assert.Equal(t, uint64(7), Length(h, out))
}

func TestConcatOwnsExactlyOneAllocation(t *testing.T) {
	k := kerneltest.NewWithLimit(128)
	h := heap.New(k, k)

	a := mustNew(t, h, "/bin/")
	b := mustNew(t, h, "ls")
	before := h.Stats()

	out, err := ConcatZ(h, a, b)
	require.NoError(t, err)
	assert.Equal(t, before.Allocations+1, h.Stats().Allocations,
		"the result is the only allocation the caller owns")

	// Exhaust the heap: a failed concat leaves the live set untouched.
	h.Release(out)
	big := mustNew(t, h, "0123456789012345678901234567890123456789")
	live := h.Stats().LiveBytes
	_, err = ConcatZ(h, big, big)
	require.Error(t, err)
	assert.Equal(t, live, h.Stats().LiveBytes)
}

func TestTokenize(t *testing.T) {
	h, _ := newTestHeap(t)

	buf := mustNew(t, h, "a b  c")
	vec, err := Tokenize(h, buf, ' ')
	require.NoError(t, err)

	require.Equal(t, 3, VecLen(h, vec))
	assert.Equal(t, "a", GoString(h, VecAt(h, vec, 0)))
	assert.Equal(t, "b", GoString(h, VecAt(h, vec, 1)))
	assert.Equal(t, "c", GoString(h, VecAt(h, vec, 2)))
	assert.Equal(t, uint64(0), VecAt(h, vec, 3), "vector ends with a null entry")

	// The split is destructive: the first delimiter became a terminator,
	// so the original buffer now reads as its first token.
	assert.Equal(t, "a", GoString(h, buf))
}

func TestTokenizeLeadingAndTrailingDelimiters(t *testing.T) {
	h, _ := newTestHeap(t)

	vec, err := Tokenize(h, mustNew(t, h, "  ls  "), ' ')
	require.NoError(t, err)

	require.Equal(t, 1, VecLen(h, vec))
	assert.Equal(t, "ls", GoString(h, VecAt(h, vec, 0)))
	assert.Equal(t, uint64(0), VecAt(h, vec, 1))
}

func TestTokenizeEmptyBuffer(t *testing.T) {
	h, _ := newTestHeap(t)

	vec, err := Tokenize(h, mustNew(t, h, ""), ' ')
	require.NoError(t, err)
	assert.Equal(t, 0, VecLen(h, vec))
	assert.Equal(t, uint64(0), VecAt(h, vec, 0))
}

func TestTokenizeOnlyDelimiters(t *testing.T) {
	h, _ := newTestHeap(t)

	vec, err := Tokenize(h, mustNew(t, h, "   "), ' ')
	require.NoError(t, err)
	assert.Equal(t, 0, VecLen(h, vec), "no non-empty tokens")
	assert.Equal(t, uint64(0), VecAt(h, vec, 0), "still terminated")
}

func TestReadLineStripsNewline(t *testing.T) {
	h, k := newTestHeap(t)
	k.Input.WriteString("hello\n")

	line, err := ReadLine(h, k, kernel.Stdin, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", GoString(h, line))
}

func TestReadLinePartialAtEndOfInput(t *testing.T) {
	h, k := newTestHeap(t)
	k.Input.WriteString("partial")

	line, err := ReadLine(h, k, kernel.Stdin, 0)
	require.NoError(t, err)
	assert.Equal(t, "partial", GoString(h, line))
}

func TestReadLineGrowsAcrossChunks(t *testing.T) {
	h, k := newTestHeap(t)
	long := "0123456789012345678901234567890123456789"
	k.Input.WriteString(long + "\n")

	line, err := ReadLine(h, k, kernel.Stdin, 8)
	require.NoError(t, err)
	assert.Equal(t, long, GoString(h, line))
}

func TestReadLineEOF(t *testing.T) {
	h, k := newTestHeap(t)

	_, err := ReadLine(h, k, kernel.Stdin, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestItoa(t *testing.T) {
	h, _ := newTestHeap(t)

	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0"},
		{7, "7"},
		{42, "42"},
		{18446744073709551615, "18446744073709551615"},
	}
	for _, tt := range tests {
		addr, err := Itoa(h, tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, GoString(h, addr))
	}
}

func TestNewAndGoStringRoundTrip(t *testing.T) {
	h, _ := newTestHeap(t)

	addr := mustNew(t, h, "round trip")
	assert.Equal(t, "round trip", GoString(h, addr))
}
