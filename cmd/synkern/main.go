package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/TLimoges33/Syn-OS-sub002/internal/kernel"
	"github.com/TLimoges33/Syn-OS-sub002/internal/observer"
	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
	"github.com/TLimoges33/Syn-OS-sub002/internal/synlog"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (empty = defaults)")
	nodeName := flag.String("node", "", "override node name")
	algorithm := flag.String("algorithm", "", "override scheduling algorithm")
	logLevel := flag.String("log-level", "", "override log level")
	flag.Parse()

	cfg, err := kernel.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *nodeName != "" {
		cfg.NodeName = *nodeName
	}
	if *algorithm != "" {
		cfg.Algorithm = *algorithm
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	synlog.Init(cfg.LogLevel, cfg.LogFile)
	logger := synlog.For("main")

	session := uuid.NewString()
	shutdownTracing, err := observer.Setup(session, cfg.NodeName)
	if err != nil {
		logger.Warn("tracing disabled", "err", err)
		shutdownTracing = func(context.Context) {}
	}

	k, err := kernel.New(cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	logger.Info("starting", "node", cfg.NodeName, "session", session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go k.Run(ctx)

	if err := bootstrap(k); err != nil {
		logger.Error("bootstrap scenario failed", "err", err)
	}

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
	cancel()
	k.Shutdown()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 3*time.Second)
	shutdownTracing(flushCtx)
	flushCancel()
}

// bootstrap creates init (PID 1) and a couple of children so the scheduler
// has work immediately after start.
func bootstrap(k *kernel.Kernel) error {
	initPID, err := k.CreateProcess(proc.CreateRequest{
		Name:  "init",
		User:  "root",
		Class: proc.ClassHigh,
	})
	if err != nil {
		return err
	}

	for _, name := range []string{"logd", "netd"} {
		if _, err := k.CreateProcess(proc.CreateRequest{
			Parent: initPID,
			Name:   name,
			User:   "root",
			Class:  proc.ClassNormal,
		}); err != nil {
			return err
		}
	}

	synlog.For("main").Info("bootstrapped", "init", initPID, "processes", len(k.ListProcesses()))
	return nil
}
