// Package kernel defines the narrow syscall surface the userland runs
// against: one method per kernel entry point, raw int64 results, and
// errno-band error classification.
//
// Everything above this package (heap, string utilities, shell, bootstrap)
// depends only on the Kernel and Memory interfaces, never on a concrete
// kernel, so the whole runtime can be exercised against the in-process
// emulator (kernel/sim), the Linux host (kernel/host), or a scripted test
// double (kernel/kerneltest).
package kernel
