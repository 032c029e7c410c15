//go:build !linux

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "sh: the host-kernel shell requires linux; use cmd/userland for the emulated kernel")
	os.Exit(1)
}
