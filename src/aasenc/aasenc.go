// Package aasenc implements the bit-exact AAS Part 2 identifier encoding
// rules spec.md §6 requires of both the egress writer and the ingress
// adapter's event-topic decoder: URL-safe, unpadded base64 for opaque
// identifiers, and RFC 3986 percent-encoding for idShortPath segments that
// preserves the literal `[`/`]` list-index brackets.
package aasenc

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"aas-deltasync/src/domain/docid"
)

// EncodeID encodes an opaque AAS identifier (an aas_id or submodel_id) for
// placement in a URL path segment: URL-safe base64, no padding.
func EncodeID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// DecodeID reverses EncodeID.
func DecodeID(encoded string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("aasenc: decode id %q: %w", encoded, err)
	}
	return string(b), nil
}

// idShortPathExtraSafe holds the two bracket characters AAS idShortPath
// segments use for list indices (e.g. "Items[3]"); percentEncode leaves
// them literal in addition to the RFC 3986 unreserved characters, since
// upstream AAS servers expect them unencoded.
const idShortPathExtraSafe = "[]"

// EncodeIdShortPath renders path as the idShortPath string AAS Part 2
// expects (idShort segments dot-joined, element-id segments not
// representable in idShortPath form) and percent-encodes it per RFC 3986,
// leaving `[`/`]` literal.
func EncodeIdShortPath(path docid.Path) (string, error) {
	segs := make([]string, 0, len(path))
	for _, s := range path {
		if s.Kind != docid.SegmentIdShort {
			return "", fmt.Errorf("aasenc: path segment %q has no idShortPath representation (list-element segments address by stable id, not idShort)", s.String())
		}
		segs = append(segs, s.IdShort)
	}
	return percentEncode(strings.Join(segs, ".")), nil
}

func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || strings.IndexByte(idShortPathExtraSafe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	default:
		return false
	}
}

// ValueURL builds the `$value` view URL for a submodel element, the form
// both egress writes and poll-mode reads use.
func ValueURL(baseURL, submodelID string, path docid.Path) (string, error) {
	idShortPath, err := EncodeIdShortPath(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/submodels/%s/submodel-elements/%s/$value",
		strings.TrimRight(baseURL, "/"), EncodeID(submodelID), idShortPath), nil
}

// ElementURL builds the submodel element URL without the `$value` suffix,
// used for DELETE and for reads that need metadata rather than a bare value.
func ElementURL(baseURL, submodelID string, path docid.Path) (string, error) {
	idShortPath, err := EncodeIdShortPath(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/submodels/%s/submodel-elements/%s",
		strings.TrimRight(baseURL, "/"), EncodeID(submodelID), idShortPath), nil
}

// EventTerminal is the terminal segment of an upstream change-notification
// topic (spec §6: `.../submodels/<b64url>/submodelElements/<idShortPath>/<terminal>`).
type EventTerminal string

const (
	EventUpdated EventTerminal = "updated"
	EventDeleted EventTerminal = "deleted"
	EventPatched EventTerminal = "patched"
)

// DecodedEvent is what DecodeEventTopic extracts from a topic string.
type DecodedEvent struct {
	SubmodelID  string
	IdShortPath string
	Terminal    EventTerminal
}

// DecodeEventTopic parses the submodel-element suffix of an upstream event
// topic: .../submodels/<submodel_id_base64url>/submodelElements/<idShortPath_urlencoded>/<terminal>.
// repoPrefix is everything before "submodels/..." and is stripped by the
// caller before this function sees the topic.
func DecodeEventTopic(suffix string) (DecodedEvent, error) {
	parts := strings.Split(strings.TrimPrefix(suffix, "/"), "/")
	if len(parts) != 5 || parts[0] != "submodels" || parts[2] != "submodelElements" {
		return DecodedEvent{}, fmt.Errorf("aasenc: malformed event topic suffix %q", suffix)
	}

	submodelID, err := DecodeID(parts[1])
	if err != nil {
		return DecodedEvent{}, err
	}

	terminal := EventTerminal(parts[4])
	switch terminal {
	case EventUpdated, EventDeleted, EventPatched:
	default:
		return DecodedEvent{}, fmt.Errorf("aasenc: unrecognized event terminal %q", parts[4])
	}

	idShortPath, err := url.PathUnescape(parts[3])
	if err != nil {
		return DecodedEvent{}, fmt.Errorf("aasenc: decode idShortPath %q: %w", parts[3], err)
	}

	return DecodedEvent{SubmodelID: submodelID, IdShortPath: idShortPath, Terminal: terminal}, nil
}
