// Package egress turns replicated CRDT changes into upstream mutations —
// the one-way path from a converged Document back out to the AAS server
// that originated it (spec §4.8).
package egress

import (
	"context"

	"aas-deltasync/src/domain/crdt"
	"aas-deltasync/src/domain/docid"
	pkgerrors "aas-deltasync/src/pkg/errors"
	"aas-deltasync/src/pkg/logging"
	"aas-deltasync/src/pkg/metrics"
	"aas-deltasync/src/replication"
)

// upstreamWriter is the subset of *upstream.Client a Writer needs.
// Transient-failure retry already lives inside the client
// (capped exponential backoff with jitter); Writer only needs to
// distinguish "succeeded" from "permanently rejected" from "gave up".
type upstreamWriter interface {
	PutValue(ctx context.Context, submodelID string, path docid.Path, value crdt.Value) error
	Delete(ctx context.Context, submodelID string, path docid.Path) error
}

// Writer drains a replicator's egress channel and repatches every applied
// change upstream. It never originates deltas — it is a pure consumer of
// already-converged state (spec §4.8).
type Writer struct {
	client  upstreamWriter
	metrics *metrics.Registry
	log     *logging.Logger
}

// NewWriter builds a Writer. metricsReg may be metrics.Noop() when no
// exporter is wired.
func NewWriter(client upstreamWriter, metricsReg *metrics.Registry, log *logging.Logger) *Writer {
	return &Writer{client: client, metrics: metricsReg, log: log.Component("egress")}
}

// Run drains batches off ch until ctx is cancelled or ch closes.
func (w *Writer) Run(ctx context.Context, ch <-chan replication.EgressBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-ch:
			if !ok {
				return
			}
			w.writeBatch(ctx, batch)
		}
	}
}

func (w *Writer) writeBatch(ctx context.Context, batch replication.EgressBatch) {
	docKey := batch.DocID.Key()
	for _, change := range batch.Changes {
		var err error
		if change.Ok {
			err = w.client.PutValue(ctx, batch.DocID.SubmodelID, change.Path, change.Value)
		} else {
			err = w.client.Delete(ctx, batch.DocID.SubmodelID, change.Path)
		}

		if err == nil {
			w.metrics.EgressSucceeded.WithLabelValues(docKey).Inc()
			continue
		}

		if pkgerrors.IsUpstreamModel(err) {
			w.log.Warn("upstream rejected change, abandoning", "doc", docKey, "path", change.Path.String(), "error", err.Error())
			w.metrics.EgressAbandoned.WithLabelValues(docKey).Inc()
			continue
		}

		// Retries are already exhausted inside the upstream client by the
		// time an error reaches here; nothing left to do for this change
		// but log and move on, consistent with "never alters CRDT state"
		// (spec §7) — a failed repatch does not roll back the join.
		w.log.Error("egress write failed after retries", "doc", docKey, "path", change.Path.String(), "error", err.Error())
		w.metrics.EgressAbandoned.WithLabelValues(docKey).Inc()
	}
}
