package ingress

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"aas-deltasync/src/domain/crdt"
	"aas-deltasync/src/domain/docid"
	"aas-deltasync/src/pkg/logging"
	"aas-deltasync/src/upstream"
)

// viewReader is the subset of *upstream.Client a Poller needs; narrowed to
// an interface so tests can fake it without standing up an HTTP server.
type viewReader interface {
	GetSubmodelView(ctx context.Context, submodelID string) (map[string]crdt.Value, error)
}

// watchedDoc tracks one polled document's last-seen view, the baseline
// every poll tick diffs the fresh read against.
type watchedDoc struct {
	id       docid.DocID
	lastSeen map[string]crdt.Value
}

// Poller periodically reads each watched document's current view and
// diffs it against the last-seen view to synthesize Change events — the
// same shape as the teacher's FileWatcher polling a file's mtime and
// diffing parsed content, generalized from one file to one AAS document.
type Poller struct {
	mu       sync.RWMutex
	client   viewReader
	interval time.Duration
	watched  map[string]*watchedDoc
	out      chan Change
	log      *logging.Logger
}

// NewPoller builds a Poller. bufferSize bounds the Change channel;
// a full channel applies backpressure to the poll loop itself (a tick is
// skipped rather than piling up unbounded work).
func NewPoller(client *upstream.Client, interval time.Duration, bufferSize int, log *logging.Logger) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Poller{
		client:   client,
		interval: interval,
		watched:  make(map[string]*watchedDoc),
		out:      make(chan Change, bufferSize),
		log:      log.Component("ingress.poll"),
	}
}

// Changes is the stream of Change events the poller produces.
func (p *Poller) Changes() <-chan Change { return p.out }

// Watch registers id for polling, reading its current view as the
// baseline. No Change events are emitted for the baseline read itself —
// only subsequent diffs produce events.
func (p *Poller) Watch(ctx context.Context, id docid.DocID) error {
	view, err := p.client.GetSubmodelView(ctx, id.SubmodelID)
	if err != nil {
		return fmt.Errorf("ingress: initial read of %s: %w", id.Key(), err)
	}

	p.mu.Lock()
	p.watched[id.Key()] = &watchedDoc{id: id, lastSeen: view}
	p.mu.Unlock()
	return nil
}

// Unwatch stops polling id.
func (p *Poller) Unwatch(id docid.DocID) {
	p.mu.Lock()
	delete(p.watched, id.Key())
	p.mu.Unlock()
}

// Start runs the poll loop until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	p.mu.RLock()
	docs := make([]*watchedDoc, 0, len(p.watched))
	for _, d := range p.watched {
		docs = append(docs, d)
	}
	p.mu.RUnlock()

	for _, d := range docs {
		p.pollOne(ctx, d)
	}
}

func (p *Poller) pollOne(ctx context.Context, d *watchedDoc) {
	fresh, err := p.client.GetSubmodelView(ctx, d.id.SubmodelID)
	if err != nil {
		p.log.Warn("poll read failed", "doc", d.id.Key(), "error", err.Error())
		return
	}

	p.mu.Lock()
	prev := d.lastSeen
	d.lastSeen = fresh
	p.mu.Unlock()

	for path, value := range fresh {
		old, existed := prev[path]
		if !existed || !old.Equal(value) {
			p.emit(ctx, Change{DocID: d.id, Path: pathFromIdShortPath(path), Op: OpSet, Value: value})
		}
	}
	for path := range prev {
		if _, stillPresent := fresh[path]; !stillPresent {
			p.emit(ctx, Change{DocID: d.id, Path: pathFromIdShortPath(path), Op: OpRemove, Value: crdt.Absent})
		}
	}
}

func (p *Poller) emit(ctx context.Context, c Change) {
	select {
	case p.out <- c:
	case <-ctx.Done():
	}
}

func pathFromIdShortPath(idShortPath string) docid.Path {
	return docid.NewPath(strings.Split(idShortPath, ".")...)
}
