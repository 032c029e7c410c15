// Package shell implements the userland command shell: a two-state
// (Running/Stopped) read-eval-print loop that reads a line from the
// console, tokenizes it in place, and dispatches on the first token.
//
// "exit" stops the loop, "help" prints usage, and anything else is
// resolved against a fixed directory prefix and launched as a child
// process. The parent reports the child pid and never waits for it;
// accumulating zombies is an accepted limitation of the canonical flow,
// not something the loop papers over.
package shell
