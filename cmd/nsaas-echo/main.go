// Command nsaas-echo attaches to a controller, listens on a local
// endpoint, and echoes every message it receives back to its sender.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsaaslink/go-nsaas"
	"github.com/nsaaslink/go-nsaas/internal/logging"
)

func main() {
	var (
		controllerPath = flag.String("controller", "", "controller socket path (default: built-in)")
		listenIP       = flag.String("listen-ip", "0.0.0.0", "local address to listen on")
		listenPort     = flag.Uint("listen-port", 9000, "local port to listen on")
		verbose        = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := nsaas.DefaultConfig()
	if *controllerPath != "" {
		cfg.ControllerPath = *controllerPath
	}
	cfg.Logger = logger

	ch, err := nsaas.Attach(cfg)
	if err != nil {
		logger.Error("attach failed", "error", err)
		os.Exit(1)
	}
	defer ch.Shutdown()
	defer ch.Detach()

	if err := ch.Listen(*listenIP, uint16(*listenPort)); err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}

	logger.Info("listening", "addr", fmt.Sprintf("%s:%d", *listenIP, *listenPort))
	fmt.Printf("nsaas-echo listening on %s:%d\n", *listenIP, *listenPort)
	fmt.Println("Press Ctrl+C to stop...")

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	buf := make([]byte, nsaas.MsgMaxLen)
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		default:
		}

		n, flow, err := ch.Recv(buf)
		if err != nil {
			logger.Error("recv failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		echoFlow := nsaas.Flow{SrcIP: flow.DstIP, DstIP: flow.SrcIP, SrcPort: flow.DstPort, DstPort: flow.SrcPort}
		if err := ch.Send(echoFlow, buf[:n]); err != nil {
			logger.Error("echo send failed", "error", err, "bytes", n)
		}
	}
}
