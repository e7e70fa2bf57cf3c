// File: internal/infra/p2p/bootstrap.go
package p2p

import (
	"context"
	"fmt"
	"time"

	relayv2 "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/relay"
	"github.com/rs/zerolog"

	"whisper/internal/config"
)

const (
	maxRelayReservations = 128
	heartbeatInterval    = 60 * time.Second
)

// RunBootstrap runs the overlay alone: DHT in server mode, circuit relay
// reservations for chat nodes behind NAT, persistent identity, no SSH
// and no sessions. It blocks until ctx is cancelled.
func RunBootstrap(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	priv, err := LoadOrCreateIdentity(cfg.P2P.KeyPath, log)
	if err != nil {
		return fmt.Errorf("bootstrap identity: %w", err)
	}

	node, err := NewNode(ctx, NodeConfig{
		Port:           cfg.P2P.Port,
		Identity:       priv,
		BootstrapPeers: cfg.P2P.BootstrapNodes,
		DHTServer:      true,
		LowWater:       cfg.P2P.LowWater,
		HighWater:      cfg.P2P.HighWater,
	}, log)
	if err != nil {
		return fmt.Errorf("start bootstrap node: %w", err)
	}
	defer node.Close()

	resources := relayv2.DefaultResources()
	resources.MaxReservations = maxRelayReservations
	relay, err := relayv2.New(node.Host(), relayv2.WithResources(resources))
	if err != nil {
		return fmt.Errorf("start relay service: %w", err)
	}
	defer relay.Close()

	log.Info().
		Str("peer_id", node.ID().String()).
		Int("relay_reservations", maxRelayReservations).
		Msg("bootstrap node running")

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("bootstrap node shutting down")
			return nil
		case <-ticker.C:
			log.Info().Int("connections", node.ConnCount()).Msg("heartbeat")
		}
	}
}
