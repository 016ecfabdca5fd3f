package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"aas-deltasync/src/codec"
	"aas-deltasync/src/domain/actor"
	"aas-deltasync/src/domain/clock"
	"aas-deltasync/src/domain/delta"
	"aas-deltasync/src/domain/docid"
	"aas-deltasync/src/domain/document"
	"aas-deltasync/src/infrastructure/storage/badger"
	pkgerrors "aas-deltasync/src/pkg/errors"
	"aas-deltasync/src/pkg/logging"
	"aas-deltasync/src/transport"
)

// dedupCacheSize bounds the in-memory delta-id cache that short-circuits
// the common case (a gossip echo of something we just logged) without a
// Badger round trip on every inbound message.
const dedupCacheSize = 4096

// Registry resolves a DocID to the live Document instance that holds its
// CRDT state, creating one on first use.
type Registry struct {
	mu    sync.Mutex
	clk   *clock.Clock
	docs  map[string]*document.Document
}

func NewRegistry(clk *clock.Clock) *Registry {
	return &Registry{clk: clk, docs: make(map[string]*document.Document)}
}

func (r *Registry) Get(id docid.DocID) *document.Document {
	key := id.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[key]; ok {
		return d
	}
	d := document.New(id, r.clk)
	r.docs[key] = d
	return d
}

// EgressBatch pairs a join's AppliedChanges with the document they belong
// to — document.AppliedChanges alone carries only paths and values, but
// the egress writer needs the DocId to address the right upstream
// submodel.
type EgressBatch struct {
	DocID   docid.DocID
	Changes document.AppliedChanges
}

// Replicator runs the outgoing (produce -> log -> publish, republish on
// timeout) and incoming (receive -> dedup -> log -> observe -> join ->
// progress -> egress) delta state machines described by spec §4.6, plus
// anti-entropy catch-up (spec §4.5/§4.6).
type Replicator struct {
	tr    transport.Transport
	log   *badger.DeltaLog
	docs  *Registry
	local actor.ID
	out   logging.Logger

	dedup *lru.Cache[delta.ID, struct{}]

	egress chan EgressBatch

	pending   map[delta.ID]pendingDelta
	pendingMu sync.Mutex

	republishEvery time.Duration
}

type pendingDelta struct {
	env      Envelope
	attempts int
}

// Opts configures a Replicator. EgressBuffer bounds the queue the egress
// adapter drains; a full queue applies backpressure to incoming deltas
// rather than growing without limit (spec §5 resource model).
type Opts struct {
	EgressBuffer   int
	RepublishEvery time.Duration
}

func DefaultOpts() Opts {
	return Opts{EgressBuffer: 1024, RepublishEvery: 5 * time.Second}
}

func NewReplicator(tr transport.Transport, log *badger.DeltaLog, docs *Registry, local actor.ID, logger *logging.Logger, opts Opts) (*Replicator, error) {
	cache, err := lru.New[delta.ID, struct{}](dedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("replication: create dedup cache: %w", err)
	}
	if opts.EgressBuffer <= 0 {
		opts.EgressBuffer = DefaultOpts().EgressBuffer
	}
	if opts.RepublishEvery <= 0 {
		opts.RepublishEvery = DefaultOpts().RepublishEvery
	}
	return &Replicator{
		tr:             tr,
		log:            log,
		docs:           docs,
		local:          local,
		out:            *logger.Component("replication"),
		dedup:          cache,
		egress:         make(chan EgressBatch, opts.EgressBuffer),
		pending:        make(map[delta.ID]pendingDelta),
		republishEvery: opts.RepublishEvery,
	}, nil
}

// Egress is the channel the egress adapter drains EgressBatches from.
func (r *Replicator) Egress() <-chan EgressBatch { return r.egress }

// Start subscribes to the delta and anti-entropy topics and begins the
// republish timer for deltas this agent produced.
func (r *Replicator) Start(ctx context.Context) error {
	deltaCh, err := r.tr.Subscribe(ctx, transport.TopicDeltas)
	if err != nil {
		return fmt.Errorf("replication: subscribe deltas: %w", err)
	}
	aeCh, err := r.tr.Subscribe(ctx, transport.TopicAntiEntropy)
	if err != nil {
		return fmt.Errorf("replication: subscribe anti-entropy: %w", err)
	}

	go r.pumpDeltas(ctx, deltaCh)
	go r.pumpAntiEntropy(ctx, aeCh)
	go r.republishLoop(ctx)

	return nil
}

// Produce logs a locally minted delta and publishes it, registering it for
// republish until the log confirms every known peer has progressed past
// it (tracked indirectly: republish stops once Compact's peer-progress
// check would drop it, so we simply cap attempts instead of polling
// progress on every tick).
func (r *Replicator) Produce(d delta.Delta) error {
	seq, err := r.log.AppendLocal(d)
	if err != nil {
		return fmt.Errorf("replication: append local delta: %w", err)
	}

	env := Envelope{OriginSeq: seq, Delta: d}
	r.pendingMu.Lock()
	r.pending[d.ID()] = pendingDelta{env: env}
	r.pendingMu.Unlock()

	return r.publishEnvelope(context.Background(), env)
}

func (r *Replicator) publishEnvelope(ctx context.Context, env Envelope) error {
	w := &codec.Writer{}
	EncodeEnvelope(w, env)
	return r.tr.Publish(ctx, transport.TopicDeltas, w.Bytes())
}

func (r *Replicator) republishLoop(ctx context.Context) {
	ticker := time.NewTicker(r.republishEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.republishOnce(ctx)
		}
	}
}

// republishMaxAttempts bounds how many times an unconfirmed delta is
// re-broadcast before the replicator gives up and relies purely on
// anti-entropy to eventually deliver it.
const republishMaxAttempts = 12

func (r *Replicator) republishOnce(ctx context.Context) {
	r.pendingMu.Lock()
	due := make([]pendingDelta, 0, len(r.pending))
	for id, p := range r.pending {
		p.attempts++
		if p.attempts > republishMaxAttempts {
			delete(r.pending, id)
			continue
		}
		r.pending[id] = p
		due = append(due, p)
	}
	r.pendingMu.Unlock()

	for _, p := range due {
		if err := r.publishEnvelope(ctx, p.env); err != nil {
			r.out.Warn("republish failed", "delta_id", fmt.Sprintf("%x", p.env.Delta.ID()), "error", err.Error())
		}
	}
}

// ConfirmDelivered removes a delta from the republish set once the
// replicator learns (via anti-entropy progress or direct ack) that it no
// longer needs repeating. Nothing in the agent calls it; a pending delta
// otherwise leaves the republish set after republishMaxAttempts sends.
func (r *Replicator) ConfirmDelivered(id delta.ID) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

func (r *Replicator) pumpDeltas(ctx context.Context, ch <-chan transport.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleDeltaMessage(msg)
		}
	}
}

func (r *Replicator) handleDeltaMessage(msg transport.Message) {
	env, err := DecodeEnvelope(codec.NewReader(msg.Data))
	if err != nil {
		r.out.Warn("dropping undecodable delta envelope", "peer", string(msg.From), "error", err.Error())
		return
	}

	id := env.Delta.ID()
	if _, seen := r.dedup.Get(id); seen {
		return
	}

	outcome, err := r.log.AppendRemote(env.Delta.OriginActor, env.OriginSeq, env.Delta)
	if err != nil {
		if pkgerrors.IsProtocol(err) {
			r.out.Error("forged delta rejected", "delta_id", fmt.Sprintf("%x", id), "peer", string(msg.From), "error", err.Error())
		} else {
			r.out.Warn("failed to append remote delta", "delta_id", fmt.Sprintf("%x", id), "error", err.Error())
		}
		return
	}
	r.dedup.Add(id, struct{}{})

	switch outcome {
	case badger.Duplicate:
		return
	case badger.Rejected:
		return
	}

	doc := r.docs.Get(env.Delta.DocID)
	changes, err := doc.Apply(env.Delta)
	if err != nil {
		r.out.Warn("rejecting delta on causality error", "delta_id", fmt.Sprintf("%x", id), "error", err.Error())
		return
	}
	if len(changes) == 0 {
		return
	}

	r.egress <- EgressBatch{DocID: env.Delta.DocID, Changes: changes}
}

func (r *Replicator) pumpAntiEntropy(ctx context.Context, ch <-chan transport.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleAntiEntropyMessage(ctx, msg)
		}
	}
}

// handleAntiEntropyMessage treats every inbound anti-entropy frame as a
// request: a peer announcing its known progress, to which we respond with
// everything we have beyond that. Responses are sent back point-to-point
// via Send rather than broadcast.
func (r *Replicator) handleAntiEntropyMessage(ctx context.Context, msg transport.Message) {
	req, err := DecodeAERequest(codec.NewReader(msg.Data))
	if err != nil {
		r.out.Warn("dropping undecodable anti-entropy request", "peer", string(msg.From), "error", err.Error())
		return
	}

	origins, err := r.log.KnownPeers()
	if err != nil {
		r.out.Warn("failed to list known origins", "error", err.Error())
		return
	}

	var envs []Envelope
	for _, origin := range origins {
		fromSeq := req.Known[origin]
		entries, err := r.log.Range(origin, fromSeq)
		if err != nil {
			r.out.Warn("failed to range delta log", "origin", origin.String(), "error", err.Error())
			continue
		}
		for _, e := range entries {
			envs = append(envs, Envelope{OriginSeq: e.OriginSeq, Delta: e.Delta})
		}
	}
	if len(envs) == 0 {
		return
	}

	w := &codec.Writer{}
	EncodeAEResponse(w, AEResponse{Envelopes: envs})
	if err := r.tr.Send(ctx, msg.From, transport.TopicAntiEntropy, w.Bytes()); err != nil {
		r.out.Warn("failed to send anti-entropy response", "peer", string(msg.From), "error", err.Error())
	}
}

// RequestCatchUp announces this agent's known progress to peer so it can
// respond with anything missing. Called on startup and on a periodic
// anti-entropy schedule (spec §4.6).
func (r *Replicator) RequestCatchUp(ctx context.Context, peer transport.PeerID) error {
	origins, err := r.log.KnownPeers()
	if err != nil {
		return fmt.Errorf("replication: list known origins: %w", err)
	}

	known := make(map[actor.ID]uint64, len(origins)+1)
	known[r.local] = 0
	for _, origin := range origins {
		entries, err := r.log.Range(origin, 0)
		if err != nil {
			continue
		}
		if len(entries) > 0 {
			known[origin] = entries[len(entries)-1].OriginSeq
		}
	}

	w := &codec.Writer{}
	EncodeAERequest(w, AERequest{Known: known})
	return r.tr.Send(ctx, peer, transport.TopicAntiEntropy, w.Bytes())
}
