package libp2p

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// frameKind tags whether a published frame carries zstd-compressed or raw
// bytes, so the receiving side doesn't need to guess.
type frameKind byte

const (
	frameRaw  frameKind = 0x00
	frameZstd frameKind = 0x01
)

// compressionThreshold mirrors the teacher's rule of not bothering to
// compress small deltas, where framing overhead would dominate.
const compressionThreshold = 1024

// compressionRatio only keeps a compressed frame if it beats the raw one
// by at least this much; marginal wins aren't worth the CPU on every peer.
const compressionRatio = 0.8

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("transport/libp2p: zstd encoder init: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("transport/libp2p: zstd decoder init: %v", err))
	}
}

// frameMessage wraps data for the wire: [1 byte kind][4 bytes original
// size][payload].
func frameMessage(data []byte) []byte {
	if len(data) < compressionThreshold {
		return wrapFrame(frameRaw, data, len(data))
	}

	compressed := zstdEncoder.EncodeAll(data, nil)
	if float64(len(compressed)) < float64(len(data))*compressionRatio {
		return wrapFrame(frameZstd, compressed, len(data))
	}
	return wrapFrame(frameRaw, data, len(data))
}

func wrapFrame(kind frameKind, payload []byte, originalSize int) []byte {
	out := make([]byte, 5+len(payload))
	out[0] = byte(kind)
	binary.BigEndian.PutUint32(out[1:5], uint32(originalSize))
	copy(out[5:], payload)
	return out
}

// unframeMessage reverses frameMessage, validating the decompressed size
// against what the sender claimed.
func unframeMessage(data []byte) ([]byte, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("transport/libp2p: frame too short: %d bytes", len(data))
	}

	kind := frameKind(data[0])
	originalSize := binary.BigEndian.Uint32(data[1:5])
	payload := data[5:]

	switch kind {
	case frameRaw:
		if uint32(len(payload)) != originalSize {
			return nil, fmt.Errorf("transport/libp2p: raw frame size mismatch: want %d got %d", originalSize, len(payload))
		}
		return payload, nil
	case frameZstd:
		decoded, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("transport/libp2p: zstd decode: %w", err)
		}
		if uint32(len(decoded)) != originalSize {
			return nil, fmt.Errorf("transport/libp2p: zstd frame size mismatch: want %d got %d", originalSize, len(decoded))
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("transport/libp2p: unknown frame kind %d", kind)
	}
}
