// Package sim is the in-process emulated kernel the userland boots on: a
// flat process image with a program break, a device table with a console,
// a process table whose children run on goroutines, and a registry of
// installed programs keyed by absolute path.
//
// Exec replaces the calling image: the target program runs on the caller's
// context and control never comes back (the exit status unwinds to Boot).
// Process duplication cannot be split from replacement (an emulated
// process cannot re-enter the caller's instruction stream), so the kernel
// advertises the fused SpawnExec capability and Fork returns ENOSYS.
//
// The emulator serves a single console; descriptors live in one
// kernel-wide table shared by every process, which is exactly the scope
// the boot flow needs (the init program opens the console three times and
// every later process inherits those descriptors).
package sim
