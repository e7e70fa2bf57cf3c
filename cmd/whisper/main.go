// File: cmd/whisper/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whisper/internal/config"
	httpapi "whisper/internal/infra/http"
	"whisper/internal/infra/logging"
	"whisper/internal/infra/metrics"
	"whisper/internal/infra/p2p"
	"whisper/internal/infra/sshd"
	"whisper/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "development mode (console logs)")
	bootstrap := flag.Bool("bootstrap", false, "run as overlay bootstrap/relay node")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *devMode)
	if err != nil {
		// no logger yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *bootstrap {
		cfg.P2P.Bootstrap = true
	}

	log := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.P2P.Bootstrap {
		if err := p2p.RunBootstrap(ctx, cfg, log); err != nil {
			log.Error().Err(err).Msg("bootstrap node failed")
			os.Exit(1)
		}
		return
	}

	identity, err := p2p.LoadOrCreateIdentity(cfg.P2P.KeyPath, log)
	if err != nil {
		log.Error().Err(err).Msg("node identity failed")
		os.Exit(1)
	}

	node, err := p2p.NewNode(ctx, p2p.NodeConfig{
		Port:           cfg.P2P.Port,
		Identity:       identity,
		BootstrapPeers: cfg.P2P.BootstrapNodes,
		LowWater:       cfg.P2P.LowWater,
		HighWater:      cfg.P2P.HighWater,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("overlay start failed")
		os.Exit(1)
	}
	defer node.Close()

	dir := usecase.NewDirectory(cfg.Chat.MaxMessagesInMemory, log)

	ops := httpapi.NewServer(cfg.Metrics.Port, dir, log)
	go func() {
		if err := ops.Start(); err != nil {
			log.Error().Err(err).Msg("ops http server failed")
		}
	}()

	sshServer, err := sshd.NewServer(cfg, dir, node, log)
	if err != nil {
		log.Error().Err(err).Msg("ssh server setup failed")
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- sshServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("ssh server failed")
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sshServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ssh shutdown")
	}
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ops shutdown")
	}
}
