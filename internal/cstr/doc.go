// Package cstr provides the string and buffer utilities of the userland:
// NUL-terminated byte strings living in heap memory, addressed by image
// address rather than by Go slice.
//
// All functions take the owning heap; allocating ones (Concat, ConcatZ,
// Tokenize, ReadLine, Itoa, New) hand ownership of the returned address to
// the caller, who is expected to Release it.
package cstr
