package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"scene-relay/config"
	"scene-relay/relay"
	"scene-relay/utils"
)

func main() {
	conf := flag.String("config", "", "Path to config file")
	flag.Parse()

	if *conf != "" {
		if err := config.Reload(*conf); err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			os.Exit(1)
		}
		utils.Rebuild()
	}

	defer utils.Logger.Sync()

	cfg := config.GlobalCfg
	listenAddr := fmt.Sprintf("%s:%d", cfg.Listen.Addr, cfg.Listen.Port)
	hub := relay.NewHub(
		listenAddr,
		cfg.Listen.UDPPortLow,
		cfg.Listen.UDPPortHigh,
		cfg.Admission.Limit,
		cfg.AdmissionWindow(),
	)

	utils.Logger.Info("scene-relay starting", zap.String("listen", listenAddr))
	if err := hub.Start(); err != nil {
		utils.Logger.Error("failed to start hub", zap.Error(err))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	utils.Logger.Info("caught signal, shutting down", zap.String("signal", sig.String()))

	hub.Stop()
	// Best-effort delay for reader goroutines to observe the stop; the
	// exit path does not wait on them beyond this.
	time.Sleep(time.Second)

	utils.Logger.Info("scene-relay stopped")
}
