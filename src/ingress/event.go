package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aas-deltasync/src/aasenc"
	"aas-deltasync/src/domain/crdt"
	"aas-deltasync/src/domain/docid"
	"aas-deltasync/src/pkg/logging"
	"aas-deltasync/src/transport"
	"aas-deltasync/src/upstream"
)

// valueReader is the subset of *upstream.Client an EventSubscriber needs
// for the "value omitted, fetch it" fallback (spec §4.7).
type valueReader interface {
	GetValue(ctx context.Context, submodelID string, path docid.Path) (crdt.Value, error)
}

// EventMessage is the payload carried over the transport's event topic:
// the decoded-topic-equivalent information plus an optional inline value.
// The upstream's own wire format is MQTT/AMQP-specific and out of scope
// (spec.md §1 Non-goals); this repo observes it only through the
// transport Subscriber abstraction (§6), so this is the shape that
// abstraction delivers, not a literal upstream protocol encoding.
type EventMessage struct {
	TopicSuffix string                 `json:"topicSuffix"`
	Value       *upstream.ValuePayload `json:"value,omitempty"`
}

// EventTopic is the transport topic an EventSubscriber subscribes to for
// a given AAS id.
func EventTopic(aasID string) string {
	return "/deltasync/events/" + aasenc.EncodeID(aasID)
}

// Resolver maps a decoded submodel id (and view, implicitly normal/value
// per the watched DocId set) to the DocId an event's Change should be
// attributed to.
type Resolver func(submodelID string) (docid.DocID, bool)

// EventSubscriber turns upstream change notifications, delivered over the
// shared transport, into Changes — performing a bounded read when a
// notification omits its value (spec §4.7).
type EventSubscriber struct {
	tr      transport.Transport
	reader  valueReader
	aasID   string
	resolve Resolver
	out     chan Change
	log     *logging.Logger
}

// NewEventSubscriber builds an EventSubscriber for one upstream AAS id.
func NewEventSubscriber(tr transport.Transport, reader valueReader, aasID string, resolve Resolver, bufferSize int, log *logging.Logger) *EventSubscriber {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventSubscriber{
		tr:      tr,
		reader:  reader,
		aasID:   aasID,
		resolve: resolve,
		out:     make(chan Change, bufferSize),
		log:     log.Component("ingress.event"),
	}
}

// Changes is the stream of Change events the subscriber produces.
func (s *EventSubscriber) Changes() <-chan Change { return s.out }

// Start subscribes to this AAS id's event topic and begins dispatching.
func (s *EventSubscriber) Start(ctx context.Context) error {
	ch, err := s.tr.Subscribe(ctx, EventTopic(s.aasID))
	if err != nil {
		return fmt.Errorf("ingress: subscribe events for %s: %w", s.aasID, err)
	}
	go s.pump(ctx, ch)
	return nil
}

func (s *EventSubscriber) pump(ctx context.Context, ch <-chan transport.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *EventSubscriber) handle(ctx context.Context, msg transport.Message) {
	var event EventMessage
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.log.Warn("dropping undecodable event message", "peer", string(msg.From), "error", err.Error())
		return
	}

	decoded, err := aasenc.DecodeEventTopic(event.TopicSuffix)
	if err != nil {
		s.log.Warn("dropping event with malformed topic", "topic", event.TopicSuffix, "error", err.Error())
		return
	}

	id, ok := s.resolve(decoded.SubmodelID)
	if !ok {
		return
	}
	path := docid.NewPath(strings.Split(decoded.IdShortPath, ".")...)

	if decoded.Terminal == aasenc.EventDeleted {
		s.emit(ctx, Change{DocID: id, Path: path, Op: OpRemove, Value: crdt.Absent})
		return
	}

	var value crdt.Value
	if event.Value != nil {
		v, err := event.Value.Value()
		if err != nil {
			s.log.Warn("dropping event with undecodable inline value", "error", err.Error())
			return
		}
		value = v
	} else {
		v, err := s.reader.GetValue(ctx, decoded.SubmodelID, path)
		if err != nil {
			s.log.Warn("bounded read failed for value-omitted event", "submodel", decoded.SubmodelID, "path", path.String(), "error", err.Error())
			return
		}
		value = v
	}

	s.emit(ctx, Change{DocID: id, Path: path, Op: OpSet, Value: value})
}

func (s *EventSubscriber) emit(ctx context.Context, c Change) {
	select {
	case s.out <- c:
	case <-ctx.Done():
	default:
		s.log.Warn("event change queue full, dropping change", "doc", c.DocID.Key(), "path", c.Path.String())
	}
}
