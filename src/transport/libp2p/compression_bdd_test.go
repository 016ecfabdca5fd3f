package libp2p

import (
	"bytes"
	"strings"
	"testing"
)

// Feature: Frame compression
// As the transport layer
// I want small frames sent raw and large repetitive frames compressed
// So that bandwidth is saved without penalizing tiny messages

// Scenario: A small frame is sent uncompressed
func TestFeature_Frame_Scenario_SmallDataStaysRaw(t *testing.T) {
	t.Run("Given a short payload", func(t *testing.T) {
		data := []byte("hello world")

		t.Run("When I frame it", func(t *testing.T) {
			framed := frameMessage(data)

			t.Run("Then it should be tagged raw", func(t *testing.T) {
				if framed[0] != byte(frameRaw) {
					t.Errorf("expected frameRaw, got %d", framed[0])
				}
			})

			t.Run("And it should unframe back to the original bytes", func(t *testing.T) {
				out, err := unframeMessage(framed)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !bytes.Equal(out, data) {
					t.Errorf("expected %q, got %q", data, out)
				}
			})
		})
	})
}

// Scenario: A large repetitive frame is compressed
func TestFeature_Frame_Scenario_LargeDataCompressed(t *testing.T) {
	t.Run("Given a large repetitive payload", func(t *testing.T) {
		data := []byte(strings.Repeat("aas-deltasync payload ", 200))

		t.Run("When I frame it", func(t *testing.T) {
			framed := frameMessage(data)

			t.Run("Then it should be tagged zstd", func(t *testing.T) {
				if framed[0] != byte(frameZstd) {
					t.Errorf("expected frameZstd, got %d", framed[0])
				}
			})

			t.Run("And it should be smaller than the original", func(t *testing.T) {
				if len(framed) >= len(data) {
					t.Errorf("expected compressed frame smaller than %d bytes, got %d", len(data), len(framed))
				}
			})

			t.Run("And it should unframe back to the original bytes", func(t *testing.T) {
				out, err := unframeMessage(framed)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !bytes.Equal(out, data) {
					t.Error("round-tripped data does not match original")
				}
			})
		})
	})
}

// Scenario: An unframe of a truncated buffer fails cleanly
func TestFeature_Frame_Scenario_RejectTruncatedFrame(t *testing.T) {
	t.Run("Given a buffer shorter than the frame header", func(t *testing.T) {
		data := []byte{0x00, 0x01}

		t.Run("When I try to unframe it", func(t *testing.T) {
			_, err := unframeMessage(data)

			t.Run("Then it should report an error", func(t *testing.T) {
				if err == nil {
					t.Error("expected an error for a truncated frame")
				}
			})
		})
	})
}
