// Package config provides 12-factor configuration for the userland
// runtime. Everything is loaded from environment variables with sensible
// defaults; binaries may override individual values with flags.
//
// Sections:
//   - Console: console device path and pty exposure
//   - Shell: command prefix, prompt, line read increment
//   - Heap: image/arena size backing the break primitive
//   - Logging: level and output format
//   - Metrics: optional prometheus exposition address
package config
