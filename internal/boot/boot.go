// Package boot is the entry glue between a host process and the userland:
// it hands the process arguments to the application entry point exactly
// once and forwards the returned status to the kernel's termination entry
// point. The transfer is single-shot and non-resumable.
package boot

import "github.com/osprey-os/userland/internal/kernel"

// Run invokes entry with the process arguments and terminates through the
// kernel with its return value. On a real kernel it does not return.
func Run(k kernel.Kernel, args []string, entry func(args []string) int32) {
	k.Exit(entry(args))
}
