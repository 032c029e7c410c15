//go:build linux

// Command sh runs the interactive shell directly on the host kernel:
// commands are launched as real child processes sharing the terminal.
package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/osprey-os/userland/internal/boot"
	"github.com/osprey-os/userland/internal/config"
	"github.com/osprey-os/userland/internal/heap"
	"github.com/osprey-os/userland/internal/kernel/host"
	"github.com/osprey-os/userland/internal/logging"
	"github.com/osprey-os/userland/internal/shell"
)

func main() {
	cfg := config.LoadOrDefault()

	binDir := flag.String("bin", cfg.Shell.BinDir, "directory prefixed to bare command names")
	prompt := flag.String("prompt", cfg.Shell.Prompt, "prompt string")
	flag.Parse()

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		logger = logging.NewDefault()
	}
	defer logger.Sync()

	k, err := host.New(host.WithLimit(cfg.Heap.Limit))
	if err != nil {
		logger.Fatal("image setup failed", zap.Error(err))
	}

	boot.Run(k, os.Args, func(args []string) int32 {
		return run(k, cfg, logger, *binDir, *prompt)
	})
}

func run(k *host.Kernel, cfg *config.Config, logger *zap.Logger, binDir, prompt string) int32 {
	h := heap.New(k, k, heap.WithLogger(logger))

	s, err := shell.New(k, h,
		shell.WithLogger(logger),
		shell.WithPrompt(prompt),
		shell.WithBinDir(binDir),
		shell.WithReadChunk(cfg.Shell.ReadChunk),
	)
	if err != nil {
		logger.Error("shell construction failed", zap.Error(err))
		return 1
	}
	return s.Run()
}
