// Package heap implements the manual allocator the userland runs on: a
// first-fit, intrusive free list over the kernel's break primitive.
//
// Every live payload is preceded in the image by a 16-byte header holding
// the payload size and a validity tag. Released blocks are overwritten
// with a free node (total size inclusive of the node, link to the next
// free block) and pushed on the head of the free list, so reuse is LIFO.
// Physically adjacent free blocks are never coalesced; fragmentation only
// grows. That is a deliberate property of the allocator, not an oversight.
//
// The allocator is owned by a single execution context. It is not safe for
// concurrent use and takes no locks.
package heap
