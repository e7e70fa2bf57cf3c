// File: internal/infra/p2p/node.go
package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	ws "github.com/libp2p/go-libp2p/p2p/transport/websocket"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"whisper/internal/domain"
	"whisper/internal/domain/model"
	"whisper/internal/domain/ports/adapter"
	"whisper/internal/infra/metrics"
)

// RoomTopicPrefix maps logical rooms onto overlay topics. Wire-compatible
// peers must agree on it exactly.
const RoomTopicPrefix = "/whisper/room/"

func RoomTopic(room string) string { return RoomTopicPrefix + room }

// NodeConfig selects between the two deployments of the overlay: chat
// servers run the DHT in client mode with the relay client enabled,
// bootstrap nodes run the DHT in server mode and serve circuit relay
// reservations.
type NodeConfig struct {
	Port           int
	Identity       crypto.PrivKey // nil means fresh ephemeral identity
	BootstrapPeers []string
	DHTServer      bool
	LowWater       int
	HighWater      int
}

// Node owns the process-wide libp2p host, gossip pub/sub and DHT. Room
// topic subscriptions are refcounted here so that any number of session
// router views can share one gossip instance.
type Node struct {
	host host.Host
	ps   *pubsub.PubSub
	dht  *dht.IpfsDHT
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*topicHandle
	closed bool
}

// NewNode starts the overlay: WebSocket transport, Noise encryption,
// yamux muxing, gossip pub/sub with flood publish and peer exchange.
func NewNode(ctx context.Context, cfg NodeConfig, log zerolog.Logger) (*Node, error) {
	priv := cfg.Identity
	if priv == nil {
		var err error
		priv, _, err = crypto.GenerateEd25519Key(nil)
		if err != nil {
			return nil, fmt.Errorf("generate node key: %w", err)
		}
	}
	if cfg.LowWater <= 0 {
		cfg.LowWater = 10
	}
	if cfg.HighWater <= 0 {
		cfg.HighWater = 1000
	}

	mgr, err := connmgr.NewConnManager(cfg.LowWater, cfg.HighWater, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d/ws", cfg.Port)),
		libp2p.Transport(ws.New),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(mgr),
		libp2p.EnableRelay(),
	)
	if err != nil {
		return nil, fmt.Errorf("start host: %w", err)
	}

	nodeCtx, cancel := context.WithCancel(ctx)

	ps, err := pubsub.NewGossipSub(nodeCtx, h,
		pubsub.WithFloodPublish(true),
		pubsub.WithPeerExchange(true),
	)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("start gossipsub: %w", err)
	}

	mode := dht.ModeClient
	if cfg.DHTServer {
		mode = dht.ModeServer
	}
	kdht, err := dht.New(nodeCtx, h, dht.Mode(mode))
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("start dht: %w", err)
	}

	n := &Node{
		host:   h,
		ps:     ps,
		dht:    kdht,
		log:    log.With().Str("component", "p2p").Str("peer_id", h.ID().String()).Logger(),
		ctx:    nodeCtx,
		cancel: cancel,
		topics: make(map[string]*topicHandle),
	}

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			metrics.SetOverlayPeers(len(h.Network().Conns()))
			n.log.Debug().Str("remote", c.RemotePeer().String()).Msg("peer connected")
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			metrics.SetOverlayPeers(len(h.Network().Conns()))
			n.log.Debug().Str("remote", c.RemotePeer().String()).Msg("peer disconnected")
		},
	})

	for _, addr := range h.Addrs() {
		n.log.Info().Str("addr", fmt.Sprintf("%s/p2p/%s", addr, h.ID())).Msg("listening")
	}

	n.connectBootstrapPeers(nodeCtx, cfg.BootstrapPeers)
	if err := kdht.Bootstrap(nodeCtx); err != nil {
		n.log.Warn().Err(err).Msg("dht bootstrap failed")
	}
	return n, nil
}

// connectBootstrapPeers dials the configured bootstrap multiaddrs.
// Failures are logged, not fatal; an isolated node still serves local
// sessions.
func (n *Node) connectBootstrapPeers(ctx context.Context, addrs []string) {
	for _, raw := range addrs {
		maddr, err := ma.NewMultiaddr(raw)
		if err != nil {
			n.log.Warn().Err(err).Str("addr", raw).Msg("bad bootstrap multiaddr")
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			n.log.Warn().Err(err).Str("addr", raw).Msg("bootstrap multiaddr lacks peer id")
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := n.host.Connect(dialCtx, *info); err != nil {
			n.log.Warn().Err(err).Str("peer", info.ID.String()).Msg("bootstrap dial failed")
		} else {
			n.log.Info().Str("peer", info.ID.String()).Msg("connected to bootstrap peer")
		}
		cancel()
	}
}

func (n *Node) Host() host.Host { return n.host }

func (n *Node) ID() peer.ID { return n.host.ID() }

func (n *Node) ConnCount() int { return len(n.host.Network().Conns()) }

// topicHandle is one joined room topic: a single read loop fans inbound
// messages out to every registered session handler.
type topicHandle struct {
	room   string
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[int]adapter.InboundHandler
	nextID   int
}

func (t *topicHandle) dispatch(m model.ChatMessage) {
	t.mu.Lock()
	hs := make([]adapter.InboundHandler, 0, len(t.handlers))
	for _, h := range t.handlers {
		hs = append(hs, h)
	}
	t.mu.Unlock()
	for _, h := range hs {
		h(m)
	}
}

// Subscribe attaches a handler to the room's topic, joining it on first
// use. The returned release function detaches the handler and leaves the
// topic when it was the last one.
func (n *Node) Subscribe(room string, handler adapter.InboundHandler) (func(), error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, fmt.Errorf("subscribe: %w", domain.ErrNotConnected)
	}
	th, ok := n.topics[room]
	if !ok {
		topic, err := n.ps.Join(RoomTopic(room))
		if err != nil {
			n.mu.Unlock()
			return nil, fmt.Errorf("join topic %s: %w", RoomTopic(room), err)
		}
		sub, err := topic.Subscribe()
		if err != nil {
			topic.Close()
			n.mu.Unlock()
			return nil, fmt.Errorf("subscribe topic %s: %w", RoomTopic(room), err)
		}
		loopCtx, cancel := context.WithCancel(n.ctx)
		th = &topicHandle{
			room:     room,
			topic:    topic,
			sub:      sub,
			cancel:   cancel,
			handlers: make(map[int]adapter.InboundHandler),
		}
		n.topics[room] = th
		metrics.TopicJoined()
		go n.readLoop(loopCtx, th)
	}
	th.mu.Lock()
	id := th.nextID
	th.nextID++
	th.handlers[id] = handler
	th.mu.Unlock()
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.release(room, id) })
	}, nil
}

func (n *Node) release(room string, handlerID int) {
	n.mu.Lock()
	th, ok := n.topics[room]
	if !ok {
		n.mu.Unlock()
		return
	}
	th.mu.Lock()
	delete(th.handlers, handlerID)
	last := len(th.handlers) == 0
	th.mu.Unlock()
	if last {
		delete(n.topics, room)
	}
	n.mu.Unlock()

	if last {
		n.closeHandle(th)
		metrics.TopicLeft()
	}
}

func (n *Node) closeHandle(th *topicHandle) {
	th.cancel()
	th.sub.Cancel()
	if err := th.topic.Close(); err != nil {
		n.log.Debug().Err(err).Str("room", th.room).Msg("topic close")
	}
}

// readLoop delivers inbound topic messages in arrival order. Messages
// published by this node are dropped here; sessions additionally filter
// by fingerprint.
func (n *Node) readLoop(ctx context.Context, th *topicHandle) {
	self := n.host.ID()
	for {
		msg, err := th.sub.Next(ctx)
		if err != nil {
			// subscription cancelled or node shutting down
			return
		}
		if msg.ReceivedFrom == self || msg.GetFrom() == self {
			continue
		}
		m, err := model.DecodeMessage(msg.Data)
		if err != nil {
			metrics.BadPayload()
			n.log.Warn().Err(err).Str("room", th.room).Msg("dropping undecodable payload")
			continue
		}
		th.dispatch(m)
	}
}

// Publish sends the encoded message to the room's topic. A topic with no
// remote subscribers is not an error: the sender's UI has already been
// served by the local echo path.
func (n *Node) Publish(ctx context.Context, room string, m model.ChatMessage) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return fmt.Errorf("publish: %w", domain.ErrNotConnected)
	}
	th, ok := n.topics[room]
	n.mu.Unlock()

	if ok {
		if len(th.topic.ListPeers()) == 0 {
			n.log.Debug().Str("room", room).Msg("publishing with no remote subscribers")
		}
		if err := th.topic.Publish(ctx, data); err != nil {
			return fmt.Errorf("publish to %s: %w", RoomTopic(room), err)
		}
		return nil
	}

	// Not subscribed (e.g. a parting announcement for a room we already
	// left): join transiently, publish, and close.
	topic, err := n.ps.Join(RoomTopic(room))
	if err != nil {
		return fmt.Errorf("join topic %s: %w", RoomTopic(room), err)
	}
	defer topic.Close()
	if err := topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish to %s: %w", RoomTopic(room), err)
	}
	return nil
}

// TopicPeers is the overlay's current view of remote subscribers.
func (n *Node) TopicPeers(room string) []string {
	n.mu.Lock()
	th, ok := n.topics[room]
	n.mu.Unlock()
	if !ok {
		return nil
	}
	peers := th.topic.ListPeers()
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = p.String()
	}
	return out
}

// Close tears the overlay down: every topic, the DHT, then the host.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	handles := make([]*topicHandle, 0, len(n.topics))
	for _, th := range n.topics {
		handles = append(handles, th)
	}
	n.topics = make(map[string]*topicHandle)
	n.mu.Unlock()

	for _, th := range handles {
		n.closeHandle(th)
	}
	n.cancel()
	if err := n.dht.Close(); err != nil {
		n.log.Warn().Err(err).Msg("dht close")
	}
	return n.host.Close()
}
