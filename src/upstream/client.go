// Package upstream implements the AAS Part 2 HTTP REST client egress and
// poll-mode ingress share: reading and writing a submodel element's
// `$value` view and deleting an element, over plain net/http.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"

	"aas-deltasync/src/aasenc"
	"aas-deltasync/src/domain/crdt"
	"aas-deltasync/src/domain/docid"
	pkgerrors "aas-deltasync/src/pkg/errors"
	"aas-deltasync/src/pkg/logging"
)

// Config describes one upstream AAS server, matching the configuration
// surface's Upstreams list entry (base URL, optional TLS CA, and a
// credentials env var rather than an inline secret).
type Config struct {
	Kind              string
	BaseURL           string
	TLSCAPath         string
	CredentialsEnvVar string

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	return c
}

// Client is a thin REST client for one upstream AAS server.
type Client struct {
	cfg        Config
	http       *http.Client
	credential string
	log        *logging.Logger
}

// New builds a Client for cfg. A non-empty TLSCAPath is loaded into the
// client's transport as the sole trusted root; a set CredentialsEnvVar is
// read once at construction time and sent as a bearer token.
func New(cfg Config, log *logging.Logger) (*Client, error) {
	cfg = cfg.withDefaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSCAPath != "" {
		pem, err := os.ReadFile(cfg.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("upstream: read TLS CA %s: %w", cfg.TLSCAPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("upstream: no certificates parsed from %s", cfg.TLSCAPath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	var credential string
	if cfg.CredentialsEnvVar != "" {
		credential = os.Getenv(cfg.CredentialsEnvVar)
	}

	return &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		credential: credential,
		log:        log.Component("upstream"),
	}, nil
}

// ValuePayload is the JSON shape exchanged with the upstream `$value` view.
// It mirrors crdt.Value's tagged-union fields rather than flattening to a
// bare scalar, since $value payloads for references and blob pointers
// need more than one field to round-trip.
type ValuePayload struct {
	Kind          string                `json:"kind"`
	ScalarForm    string                `json:"scalarForm,omitempty"`
	ScalarType    string                `json:"scalarType,omitempty"`
	ReferenceKeys []ReferenceKeyPayload `json:"referenceKeys,omitempty"`
	BlobHash      string                `json:"blobHash,omitempty"`
	BlobLen       int64                 `json:"blobLen,omitempty"`
	BlobMime      string                `json:"blobMime,omitempty"`
}

type ReferenceKeyPayload struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

const (
	wireKindAbsent      = "absent"
	wireKindScalar      = "scalar"
	wireKindReference   = "reference"
	wireKindBlobPointer = "blobPointer"
)

func ToValuePayload(v crdt.Value) ValuePayload {
	w := ValuePayload{
		ScalarForm: v.ScalarForm,
		ScalarType: v.ScalarType,
		BlobHash:   v.BlobHash,
		BlobLen:    v.BlobLen,
		BlobMime:   v.BlobMime,
	}
	switch v.Kind {
	case crdt.KindAbsent:
		w.Kind = wireKindAbsent
	case crdt.KindScalar:
		w.Kind = wireKindScalar
	case crdt.KindReference:
		w.Kind = wireKindReference
	case crdt.KindBlobPointer:
		w.Kind = wireKindBlobPointer
	}
	for _, k := range v.ReferenceKeys {
		w.ReferenceKeys = append(w.ReferenceKeys, ReferenceKeyPayload{Type: k.Type, Value: k.Value})
	}
	return w
}

// Value converts a ValuePayload back into a crdt.Value.
func (w ValuePayload) Value() (crdt.Value, error) {
	switch w.Kind {
	case wireKindAbsent:
		return crdt.Absent, nil
	case wireKindScalar:
		return crdt.NewScalar(w.ScalarForm, w.ScalarType), nil
	case wireKindReference:
		keys := make([]crdt.ReferenceKey, 0, len(w.ReferenceKeys))
		for _, k := range w.ReferenceKeys {
			keys = append(keys, crdt.ReferenceKey{Type: k.Type, Value: k.Value})
		}
		return crdt.NewReference(keys), nil
	case wireKindBlobPointer:
		return crdt.NewBlobPointer(w.BlobHash, w.BlobLen, w.BlobMime), nil
	default:
		return crdt.Value{}, pkgerrors.NewProtocolError(fmt.Sprintf("unrecognized value kind %q", w.Kind), nil)
	}
}

// GetValue performs a bounded read of a submodel element's `$value` view,
// retrying transient failures with capped exponential backoff and jitter
// (spec §4.7's event-mode "empty value" fallback and poll mode's diff
// source both go through this path).
func (c *Client) GetValue(ctx context.Context, submodelID string, path docid.Path) (crdt.Value, error) {
	url, err := aasenc.ValueURL(c.cfg.BaseURL, submodelID, path)
	if err != nil {
		return crdt.Value{}, fmt.Errorf("upstream: build value url: %w", err)
	}

	var out crdt.Value
	err = c.withRetry(ctx, "get_value", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		c.authorize(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return pkgerrors.NewTransientError("get_value", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			out = crdt.Absent
			return nil
		}
		if resp.StatusCode >= 500 {
			return pkgerrors.NewTransientError("get_value", fmt.Errorf("status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return pkgerrors.NewUpstreamModelError(path.String(), resp.StatusCode)
		}

		var w ValuePayload
		if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
			return pkgerrors.NewProtocolError("decode $value response", err)
		}
		v, err := w.Value()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// PutValue writes path's leaf value through the `$value` view (spec §4.8:
// writes use $value for leaf scalar mutations).
func (c *Client) PutValue(ctx context.Context, submodelID string, path docid.Path, value crdt.Value) error {
	url, err := aasenc.ValueURL(c.cfg.BaseURL, submodelID, path)
	if err != nil {
		return fmt.Errorf("upstream: build value url: %w", err)
	}

	body, err := json.Marshal(ToValuePayload(value))
	if err != nil {
		return fmt.Errorf("upstream: marshal value: %w", err)
	}

	return c.withRetry(ctx, "put_value", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		c.authorize(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return pkgerrors.NewTransientError("put_value", err)
		}
		defer resp.Body.Close()
		return classifyResponse(resp, path)
	})
}

// Delete removes a submodel element (spec §4.8's DELETE path for removed
// CRDT entries).
func (c *Client) Delete(ctx context.Context, submodelID string, path docid.Path) error {
	url, err := aasenc.ElementURL(c.cfg.BaseURL, submodelID, path)
	if err != nil {
		return fmt.Errorf("upstream: build element url: %w", err)
	}

	return c.withRetry(ctx, "delete", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
		if err != nil {
			return err
		}
		c.authorize(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return pkgerrors.NewTransientError("delete", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return classifyResponse(resp, path)
	})
}

// ElementPayload is one entry of a GetSubmodelView response: an idShort
// path (dot-separated, matching Path.String()) paired with its value.
type ElementPayload struct {
	IdShortPath string       `json:"idShortPath"`
	Value       ValuePayload `json:"value"`
}

// GetSubmodelView performs a bounded read of a whole submodel's flattened
// element list (poll mode's diff source, spec §4.7: "reads the current
// view of each watched document"). Every element the upstream returns is
// stored keyed by its idShortPath; no element-id addressing is applied, so
// poll mode observes documents only through their idShort-addressable
// surface.
func (c *Client) GetSubmodelView(ctx context.Context, submodelID string) (map[string]crdt.Value, error) {
	url := fmt.Sprintf("%s/submodels/%s/submodel-elements/$value",
		trimmedBaseURL(c.cfg.BaseURL), aasenc.EncodeID(submodelID))

	out := make(map[string]crdt.Value)
	err := c.withRetry(ctx, "get_submodel_view", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		c.authorize(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return pkgerrors.NewTransientError("get_submodel_view", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode >= 500 {
			return pkgerrors.NewTransientError("get_submodel_view", fmt.Errorf("status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return pkgerrors.NewUpstreamModelError(submodelID, resp.StatusCode)
		}

		var elements []ElementPayload
		if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
			return pkgerrors.NewProtocolError("decode submodel view response", err)
		}
		out = make(map[string]crdt.Value, len(elements))
		for _, e := range elements {
			v, err := e.Value.Value()
			if err != nil {
				return err
			}
			out[e.IdShortPath] = v
		}
		return nil
	})
	return out, err
}

func trimmedBaseURL(base string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base
}

func classifyResponse(resp *http.Response, path docid.Path) error {
	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(resp.Body)
		return pkgerrors.NewTransientError("upstream_write", fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode >= 400 {
		return pkgerrors.NewUpstreamModelError(path.String(), resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}
}

// withRetry runs op, retrying only transient-I/O classified failures with
// capped exponential backoff and full jitter (spec §4.7/§4.8). Any other
// error — including CategoryUpstreamModel — returns immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffWithJitter(c.cfg.InitialBackoff, c.cfg.MaxBackoff, attempt)
			c.log.Warn("retrying upstream request", "op", op, "attempt", attempt, "wait", wait.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !pkgerrors.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("upstream: %s exhausted %d retries: %w", op, c.cfg.MaxRetries, lastErr)
}

// backoffWithJitter returns a capped exponential delay with full jitter
// (the delay is a uniform random value between 0 and the capped
// exponential ceiling), the same shape spec.md §4.7 names for the
// ingress adapter's bounded-read retries and §4.8 reuses for egress.
func backoffWithJitter(initial, max time.Duration, attempt int) time.Duration {
	ceiling := float64(initial) * math.Pow(2, float64(attempt-1))
	if ceiling > float64(max) {
		ceiling = float64(max)
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}
