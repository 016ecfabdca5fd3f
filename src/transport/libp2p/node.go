// Package libp2p adapts the teacher's gossip node into the delta-sync
// transport seam: gossipsub for the broadcast delta/presence streams, and
// a lightweight request/response stream protocol for anti-entropy, which
// by nature addresses one peer rather than the whole mesh.
package libp2p

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	golibp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/multiformats/go-multiaddr"

	"aas-deltasync/src/pkg/logging"
	"aas-deltasync/src/transport"
)

// directProtocol is the stream protocol used for point-to-point sends
// (anti-entropy request/response); pubsub only carries broadcast topics.
const directProtocol = protocol.ID("/deltasync/direct/1.0.0")

// Config mirrors the teacher's node Config, trimmed to what this project
// actually uses: no DHT, since go.mod does not carry go-libp2p-kad-dht and
// static bootstrap peers are sufficient for a fixed industrial deployment.
type Config struct {
	ListenAddrs    []string
	BootstrapPeers []peer.AddrInfo
	PrivateKey     crypto.PrivKey
	LowWater       int
	HighWater      int
}

// DefaultConfig returns sane defaults for a single-host agent.
func DefaultConfig() *Config {
	return &Config{
		ListenAddrs: []string{
			"/ip4/0.0.0.0/tcp/0",
			"/ip4/0.0.0.0/udp/0/quic-v1",
		},
		LowWater:  32,
		HighWater: 128,
	}
}

// Node is the libp2p-backed transport.Transport implementation.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	log    *logging.Logger

	mu     sync.RWMutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription
	chans  map[string]chan transport.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ transport.Transport = (*Node)(nil)

// New starts a libp2p host, dials any configured bootstrap peers, and
// installs the direct-stream protocol handler.
func New(ctx context.Context, cfg *Config, log *logging.Logger) (*Node, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	privKey := cfg.PrivateKey
	if privKey == nil {
		var err error
		privKey, _, err = crypto.GenerateKeyPair(crypto.Ed25519, -1)
		if err != nil {
			return nil, fmt.Errorf("transport/libp2p: generate identity key: %w", err)
		}
	}

	connMgr, err := connmgr.NewConnManager(cfg.LowWater, cfg.HighWater, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("transport/libp2p: connection manager: %w", err)
	}

	var listenAddrs []multiaddr.Multiaddr
	for _, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("transport/libp2p: parse listen addr %q: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	h, err := golibp2p.New(
		golibp2p.Identity(privKey),
		golibp2p.ListenAddrs(listenAddrs...),
		golibp2p.Security(noise.ID, noise.New),
		golibp2p.NATPortMap(),
		golibp2p.ConnectionManager(connMgr),
	)
	if err != nil {
		return nil, fmt.Errorf("transport/libp2p: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithPeerExchange(true), pubsub.WithFloodPublish(true))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport/libp2p: create gossipsub: %w", err)
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	n := &Node{
		host:   h,
		pubsub: ps,
		log:    log.Component("transport.libp2p"),
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		chans:  make(map[string]chan transport.Message),
		ctx:    nodeCtx,
		cancel: cancel,
	}

	h.SetStreamHandler(directProtocol, n.handleDirectStream)

	for _, pi := range cfg.BootstrapPeers {
		go func(pi peer.AddrInfo) {
			if err := h.Connect(nodeCtx, pi); err != nil {
				n.log.Warn("bootstrap peer dial failed", "peer", pi.ID.String(), "error", err.Error())
			}
		}(pi)
	}

	return n, nil
}

func (n *Node) Self() transport.PeerID {
	return transport.PeerID(n.host.ID().String())
}

func (n *Node) Peers() []transport.PeerID {
	conns := n.host.Network().Peers()
	peers := make([]transport.PeerID, 0, len(conns))
	for _, p := range conns {
		peers = append(peers, transport.PeerID(p.String()))
	}
	return peers
}

func (n *Node) joinTopic(topicName string) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if t, ok := n.topics[topicName]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topicName)
	if err != nil {
		return nil, err
	}
	n.topics[topicName] = t
	return t, nil
}

func (n *Node) Publish(ctx context.Context, topicName string, data []byte) error {
	t, err := n.joinTopic(topicName)
	if err != nil {
		return fmt.Errorf("transport/libp2p: join topic %q: %w", topicName, err)
	}
	return t.Publish(ctx, frameMessage(data))
}

// Subscribe returns a channel fed both by gossipsub (for broadcast
// topics) and by direct streams addressed to this topic (for
// point-to-point sends, e.g. anti-entropy responses).
func (n *Node) Subscribe(ctx context.Context, topicName string) (<-chan transport.Message, error) {
	n.mu.Lock()
	if ch, ok := n.chans[topicName]; ok {
		n.mu.Unlock()
		return ch, nil
	}
	ch := make(chan transport.Message, 256)
	n.chans[topicName] = ch
	n.mu.Unlock()

	t, err := n.joinTopic(topicName)
	if err != nil {
		return nil, fmt.Errorf("transport/libp2p: join topic %q: %w", topicName, err)
	}

	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("transport/libp2p: subscribe %q: %w", topicName, err)
	}

	n.mu.Lock()
	n.subs[topicName] = sub
	n.mu.Unlock()

	n.wg.Add(1)
	go n.pumpSubscription(topicName, sub, ch)

	return ch, nil
}

func (n *Node) pumpSubscription(topicName string, sub *pubsub.Subscription, out chan transport.Message) {
	defer n.wg.Done()
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		payload, err := unframeMessage(msg.Data)
		if err != nil {
			n.log.Warn("dropping malformed frame", "topic", topicName, "error", err.Error())
			continue
		}
		select {
		case out <- transport.Message{From: transport.PeerID(msg.ReceivedFrom.String()), Data: payload}:
		case <-n.ctx.Done():
			return
		}
	}
}

// Send opens a fresh stream to peer, writes one length-prefixed
// [topic][payload] frame, and closes the write side. Used for anti-entropy
// requests and responses, which are inherently unicast.
func (n *Node) Send(ctx context.Context, peerID transport.PeerID, topicName string, data []byte) error {
	pid, err := peer.Decode(string(peerID))
	if err != nil {
		return fmt.Errorf("transport/libp2p: decode peer id %q: %w", peerID, err)
	}

	s, err := n.host.NewStream(ctx, pid, directProtocol)
	if err != nil {
		return fmt.Errorf("transport/libp2p: open stream to %s: %w", peerID, err)
	}
	defer s.Close()

	framed := frameMessage(data)
	if err := writeDirectFrame(s, topicName, framed); err != nil {
		return fmt.Errorf("transport/libp2p: write direct frame: %w", err)
	}
	return nil
}

func (n *Node) handleDirectStream(s network.Stream) {
	defer s.Close()

	topicName, payload, err := readDirectFrame(s)
	if err != nil {
		n.log.Warn("malformed direct stream frame", "peer", s.Conn().RemotePeer().String(), "error", err.Error())
		return
	}
	decoded, err := unframeMessage(payload)
	if err != nil {
		n.log.Warn("dropping malformed direct frame", "topic", topicName, "error", err.Error())
		return
	}

	n.mu.RLock()
	ch, ok := n.chans[topicName]
	n.mu.RUnlock()
	if !ok {
		// Nobody is subscribed to this topic locally; nothing to deliver.
		return
	}

	select {
	case ch <- transport.Message{From: transport.PeerID(s.Conn().RemotePeer().String()), Data: decoded}:
	case <-n.ctx.Done():
	}
}

func writeDirectFrame(w io.Writer, topicName string, payload []byte) error {
	bw := bufio.NewWriter(w)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(topicName)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := bw.WriteString(topicName); err != nil {
		return err
	}
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	return bw.Flush()
}

func readDirectFrame(r io.Reader) (string, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", nil, err
	}
	topicLen := binary.BigEndian.Uint32(lenBuf[:])
	topicBuf := make([]byte, topicLen)
	if _, err := io.ReadFull(r, topicBuf); err != nil {
		return "", nil, err
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return "", nil, err
	}
	return string(topicBuf), payload, nil
}

func (n *Node) Close() error {
	n.cancel()

	n.mu.Lock()
	for _, sub := range n.subs {
		sub.Cancel()
	}
	for _, t := range n.topics {
		t.Close()
	}
	n.mu.Unlock()

	n.wg.Wait()
	return n.host.Close()
}
