// Package replication runs the two delta state machines spec.md describes:
// outgoing (produced -> logged -> published, republished on timeout) and
// incoming (received -> deduped -> logged -> observed -> joined ->
// progress updated -> enqueued for egress), plus anti-entropy catch-up.
package replication

import (
	"fmt"

	"aas-deltasync/src/codec"
	"aas-deltasync/src/domain/actor"
	"aas-deltasync/src/domain/delta"
)

// Envelope is what actually crosses the wire: a delta tagged with its
// origin_seq, since delta.Delta itself only carries the originating actor,
// not its position in that actor's log (the log assigns seq on append,
// delta.ID() is a pure content hash independent of position).
type Envelope struct {
	OriginSeq uint64
	Delta     delta.Delta
}

func EncodeEnvelope(w *codec.Writer, e Envelope) {
	w.PutUvarint(e.OriginSeq)
	delta.Encode(w, e.Delta)
}

func DecodeEnvelope(r *codec.Reader) (Envelope, error) {
	seq, err := r.Uvarint()
	if err != nil {
		return Envelope{}, fmt.Errorf("replication: decode envelope seq: %w", err)
	}
	d, err := delta.Decode(r)
	if err != nil {
		return Envelope{}, fmt.Errorf("replication: decode envelope delta: %w", err)
	}
	return Envelope{OriginSeq: seq, Delta: d}, nil
}

// AERequest asks a peer for everything the requester is missing, phrased
// as the requester's own high-water mark per origin actor it already
// knows about. Origins absent from Known are implicitly "nothing seen".
type AERequest struct {
	Known map[actor.ID]uint64
}

func EncodeAERequest(w *codec.Writer, req AERequest) {
	w.PutUvarint(uint64(len(req.Known)))
	for origin, seq := range req.Known {
		w.PutBytes(origin.Bytes())
		w.PutUvarint(seq)
	}
}

func DecodeAERequest(r *codec.Reader) (AERequest, error) {
	n, err := r.Uvarint()
	if err != nil {
		return AERequest{}, fmt.Errorf("replication: decode ae request count: %w", err)
	}
	known := make(map[actor.ID]uint64, n)
	for i := uint64(0); i < n; i++ {
		b, err := r.Bytes()
		if err != nil {
			return AERequest{}, fmt.Errorf("replication: decode ae request origin: %w", err)
		}
		origin, err := actor.FromBytes(b)
		if err != nil {
			return AERequest{}, fmt.Errorf("replication: decode ae request origin: %w", err)
		}
		seq, err := r.Uvarint()
		if err != nil {
			return AERequest{}, fmt.Errorf("replication: decode ae request seq: %w", err)
		}
		known[origin] = seq
	}
	return AERequest{Known: known}, nil
}

// AEResponse carries every delta the responder has beyond what the
// requester reported knowing.
type AEResponse struct {
	Envelopes []Envelope
}

func EncodeAEResponse(w *codec.Writer, resp AEResponse) {
	w.PutUvarint(uint64(len(resp.Envelopes)))
	for _, e := range resp.Envelopes {
		EncodeEnvelope(w, e)
	}
}

func DecodeAEResponse(r *codec.Reader) (AEResponse, error) {
	n, err := r.Uvarint()
	if err != nil {
		return AEResponse{}, fmt.Errorf("replication: decode ae response count: %w", err)
	}
	envs := make([]Envelope, 0, n)
	for i := uint64(0); i < n; i++ {
		e, err := DecodeEnvelope(r)
		if err != nil {
			return AEResponse{}, err
		}
		envs = append(envs, e)
	}
	return AEResponse{Envelopes: envs}, nil
}
