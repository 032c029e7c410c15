package main

import (
	"flag"
	"io"
	"os"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/osprey-os/userland/internal/config"
	"github.com/osprey-os/userland/internal/heap"
	"github.com/osprey-os/userland/internal/kernel/sim"
	"github.com/osprey-os/userland/internal/logging"
	"github.com/osprey-os/userland/internal/monitoring"
	"github.com/osprey-os/userland/internal/userland"
)

func main() {
	cfg := config.LoadOrDefault()

	usePTY := flag.Bool("pty", cfg.Console.PTY, "serve the console on a pseudo-terminal instead of stdio")
	metricsAddr := flag.String("metrics", cfg.Metrics.Addr, "address for the prometheus endpoint (empty disables)")
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

	consoleIn, consoleOut, err := console(*usePTY, logger)
	if err != nil {
		logger.Fatal("console setup failed", zap.Error(err))
	}

	k := sim.New(sim.WithLogger(logger), sim.WithLimit(cfg.Heap.Limit))
	k.RegisterDevice(cfg.Console.Path, consoleIn, consoleOut)

	holder := &monitoring.SourceHolder{}
	k.Install(userland.InitPath, userland.Init(cfg.Console.Path))
	k.Install(userland.ShellPath, userland.Shell(userland.ShellOptions{
		Config: cfg,
		Logger: logger,
		OnHeap: func(h *heap.Heap) { holder.Set(h) },
	}))
	k.Install(userland.EchoPath, userland.Echo)

	if *metricsAddr != "" {
		go func() {
			err := monitoring.Serve(*metricsAddr, monitoring.NewHeapCollector(holder))
			logger.Error("metrics endpoint stopped", zap.Error(err))
		}()
		logger.Info("metrics endpoint up", zap.String("addr", *metricsAddr))
	}

	status := k.Boot(userland.InitPath)
	logger.Info("boot program exited", zap.Int32("status", status))
	os.Exit(int(status))
}

// console picks the reader/writer pair the emulated console device is
// backed by. With -pty the device sits on the master side of a fresh
// pseudo-terminal and the pts path is logged so another terminal can
// attach to it.
func console(usePTY bool, logger *zap.Logger) (io.Reader, io.Writer, error) {
	if !usePTY {
		return os.Stdin, os.Stdout, nil
	}
	ptmx, pts, err := pty.Open()
	if err != nil {
		return nil, nil, err
	}
	logger.Info("console on pseudo-terminal", zap.String("pts", pts.Name()))
	return ptmx, ptmx, nil
}
