// Package application wires the domain, replication, transport, ingress
// and egress layers into a running sync agent — the supervisor described
// by spec §5: one goroutine per upstream ingress task, one per egress
// task, one subscribe loop per transport connection, one anti-entropy
// loop, one compaction loop. Structure follows the teacher's
// src/application/app.go orchestrator shape (a mutex-guarded struct
// holding every long-lived component, context-cancellation shutdown).
package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aas-deltasync/src/domain/actor"
	"aas-deltasync/src/domain/clock"
	"aas-deltasync/src/domain/docid"
	"aas-deltasync/src/egress"
	"aas-deltasync/src/infrastructure/storage/badger"
	"aas-deltasync/src/ingress"
	"aas-deltasync/src/pkg/logging"
	"aas-deltasync/src/pkg/metrics"
	"aas-deltasync/src/replication"
	"aas-deltasync/src/transport/libp2p"
	"aas-deltasync/src/upstream"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
)

// upstreamBinding is one configured upstream with its live client and
// whichever ingress mode (poll or event) it was configured for.
type upstreamBinding struct {
	cfg       UpstreamConfig
	client    *upstream.Client
	poller    *ingress.Poller
	subscribe *ingress.EventSubscriber
}

// Agent is the sync agent's process-level orchestrator: one per running
// instance, owning the durable log, the transport node, the replicator,
// and every configured upstream's ingress/egress pair.
type Agent struct {
	mu sync.Mutex

	cfg *Config
	log *logging.Logger

	actorID actor.ID
	clk     *clock.Clock

	storage    *badger.Manager
	deltaLog   *badger.DeltaLog
	snapshots  *badger.SnapshotStore
	docs       *replication.Registry
	node       *libp2p.Node
	replicator *replication.Replicator
	metrics    *metrics.Registry

	upstreams []*upstreamBinding
	writer    *egress.Writer

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds an Agent from cfg without starting any network or
// background activity; call Start to bring it up.
func New(cfg *Config) (*Agent, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	log := logging.NewConsole(cfg.LogLevel).Component("agent")

	actorID, err := actor.LoadOrCreate(cfg.Identity.ActorFile, cfg.Identity.ActorOverride)
	if err != nil {
		return nil, fmt.Errorf("application: load actor id: %w", err)
	}

	clk := clock.New(actorID).WithSkewBound(cfg.ClockSkewBound)

	storage := badger.NewManager(cfg.DurabilityDir)
	logDB, err := storage.Open("log")
	if err != nil {
		return nil, fmt.Errorf("application: open delta log store: %w", err)
	}
	snapshotDB, err := storage.Open("snapshot")
	if err != nil {
		return nil, fmt.Errorf("application: open snapshot store: %w", err)
	}

	deltaLog := badger.NewDeltaLog(logDB, actorID)
	snapshots := badger.NewSnapshotStore(snapshotDB)
	docs := replication.NewRegistry(clk)

	reg := metrics.NewRegistry(prometheus.NewRegistry())

	upstreams := make([]*upstreamBinding, 0, len(cfg.Upstreams))
	for _, uc := range cfg.Upstreams {
		client, err := upstream.New(upstream.Config{
			Kind:              uc.Kind,
			BaseURL:           uc.BaseURL,
			TLSCAPath:         uc.TLSCAPath,
			CredentialsEnvVar: uc.CredentialsEnvVar,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("application: build upstream client %q: %w", uc.Kind, err)
		}
		upstreams = append(upstreams, &upstreamBinding{cfg: uc, client: client})
	}

	return &Agent{
		cfg:       cfg,
		log:       log,
		actorID:   actorID,
		clk:       clk,
		storage:   storage,
		deltaLog:  deltaLog,
		snapshots: snapshots,
		docs:      docs,
		metrics:   reg,
		upstreams: upstreams,
	}, nil
}

// Start brings up the transport node, replicator, every configured
// upstream's ingress adapter, the egress writer, and the periodic
// anti-entropy and compaction loops. Mirrors the teacher's App.Start:
// build the context, wire subscriptions, then spawn the long-running
// goroutines last.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("application: agent already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.ctx = runCtx
	a.cancel = cancel

	node, err := libp2p.New(runCtx, &libp2p.Config{
		ListenAddrs:    a.cfg.Transport.ListenAddrs,
		BootstrapPeers: parseBootstrapPeers(a.cfg.Transport.Bootstrap),
	}, a.log)
	if err != nil {
		cancel()
		return fmt.Errorf("application: start transport node: %w", err)
	}
	a.node = node

	rep, err := replication.NewReplicator(node, a.deltaLog, a.docs, a.actorID, a.log, replication.Opts{
		EgressBuffer: a.cfg.EgressQueueDepth,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("application: build replicator: %w", err)
	}
	a.replicator = rep
	if err := rep.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("application: start replicator: %w", err)
	}

	if len(a.upstreams) > 0 {
		a.writer = egress.NewWriter(a.upstreams[0].resolveClient(), a.metrics, a.log)
		go a.writer.Run(runCtx, rep.Egress())
	}

	for _, ub := range a.upstreams {
		if err := a.startIngress(runCtx, ub); err != nil {
			cancel()
			return fmt.Errorf("application: start ingress for upstream %q: %w", ub.cfg.Kind, err)
		}
	}

	go a.antiEntropyLoop(runCtx)
	go a.compactionLoop(runCtx)

	a.running = true
	return nil
}

// resolveClient exists so egress.Writer can be handed the concrete
// *upstream.Client it needs. Start hands egress.Writer only the first
// configured upstream's client; changes are not routed to an upstream by
// DocId.
func (u *upstreamBinding) resolveClient() *upstream.Client { return u.client }

func (a *Agent) startIngress(ctx context.Context, ub *upstreamBinding) error {
	switch ub.cfg.Mode {
	case "event":
		resolve := func(submodelID string) (docid.DocID, bool) {
			if submodelID != ub.cfg.SubmodelID {
				return docid.DocID{}, false
			}
			return docid.DocID{AasID: ub.cfg.AasID, SubmodelID: ub.cfg.SubmodelID, View: docid.ViewValue}, true
		}
		sub := ingress.NewEventSubscriber(a.node, ub.client, ub.cfg.AasID, resolve, 256, a.log)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		ub.subscribe = sub
		go a.pumpIngress(ctx, sub.Changes())
	default:
		p := ingress.NewPoller(ub.client, a.cfg.PollInterval, 256, a.log)
		id := docid.DocID{AasID: ub.cfg.AasID, SubmodelID: ub.cfg.SubmodelID, View: docid.ViewValue}
		if err := p.Watch(ctx, id); err != nil {
			return err
		}
		ub.poller = p
		go p.Start(ctx)
		go a.pumpIngress(ctx, p.Changes())
	}
	return nil
}

// pumpIngress turns every observed upstream Change into a locally
// originated delta and hands it to the replicator, which logs and
// broadcasts it (spec §4.6's Produce path).
func (a *Agent) pumpIngress(ctx context.Context, changes <-chan ingress.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			doc := a.docs.Get(c.DocID)
			var err error
			if c.Op == ingress.OpRemove {
				err = a.replicator.Produce(doc.Remove(c.Path))
			} else {
				err = a.replicator.Produce(doc.Set(c.Path, c.Value))
			}
			if err != nil {
				a.log.Warn("failed to produce delta from ingress change", "doc", c.DocID.Key(), "path", c.Path.String(), "error", err.Error())
			}
		}
	}
}

// antiEntropyLoop periodically asks every reachable peer for anything
// this agent is missing (spec §4.6's anti-entropy catch-up).
func (a *Agent) antiEntropyLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.AntiEntropyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, peerID := range a.node.Peers() {
				if err := a.replicator.RequestCatchUp(ctx, peerID); err != nil {
					a.log.Warn("anti-entropy request failed", "peer", string(peerID), "error", err.Error())
					continue
				}
				a.metrics.AntiEntropyRuns.Inc()
			}
		}
	}
}

// compactionLoop periodically reclaims delta-log entries every known peer
// has confirmed (spec §4.5's compaction invariant).
func (a *Agent) compactionLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Compaction.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.deltaLog.Compact()
			if err != nil {
				a.log.Warn("compaction failed", "error", err.Error())
				continue
			}
			if n > 0 {
				a.log.Info("compacted delta log", "entries_removed", n)
			}
		}
	}
}

// Stop cancels every background loop and closes durable storage and the
// transport node, matching the teacher's App.Stop shutdown order:
// cancel context first, then close owned resources in roughly the
// reverse order they were opened.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	if a.cancel != nil {
		a.cancel()
	}

	if a.node != nil {
		if err := a.node.Close(); err != nil {
			a.log.Warn("failed to close transport node", "error", err.Error())
		}
	}

	if err := a.storage.CloseAll(); err != nil {
		a.log.Warn("failed to close storage", "error", err.Error())
	}

	a.running = false
	return nil
}

// Status summarizes this agent's current state for the CLI's status
// subcommand.
type Status struct {
	ActorID string
	Peers   int
	Running bool
}

// Status reports the agent's current state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{ActorID: a.actorID.String(), Running: a.running}
	if a.node != nil {
		st.Peers = len(a.node.Peers())
	}
	return st
}

func parseBootstrapPeers(addrs []string) []peer.AddrInfo {
	byPeer := make(map[peer.ID][]multiaddr.Multiaddr)
	order := make([]peer.ID, 0, len(addrs))
	for _, raw := range addrs {
		ma, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil || info == nil {
			continue
		}
		if _, ok := byPeer[info.ID]; !ok {
			order = append(order, info.ID)
		}
		byPeer[info.ID] = append(byPeer[info.ID], info.Addrs...)
	}

	out := make([]peer.AddrInfo, 0, len(order))
	for _, id := range order {
		out = append(out, peer.AddrInfo{ID: id, Addrs: byPeer[id]})
	}
	return out
}
