package upstream

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"aas-deltasync/src/domain/crdt"
	"aas-deltasync/src/domain/docid"
	pkgerrors "aas-deltasync/src/pkg/errors"
	"aas-deltasync/src/pkg/logging"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, MaxRetries: 2, InitialBackoff: 0}, logging.New(nil, "error"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

// Feature: Upstream REST client
// As the ingress and egress adapters
// I want to read, write, and delete a submodel element's $value view
// So that CRDT-applied changes reach the upstream AAS server and reads feed poll mode

// Scenario: A scalar value round-trips through PUT and GET
func TestFeature_UpstreamClient_Scenario_PutThenGetValue(t *testing.T) {
	t.Run("Given a server that stores whatever it is PUT", func(t *testing.T) {
		var stored []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPut:
				stored, _ = io.ReadAll(r.Body)
				w.WriteHeader(http.StatusNoContent)
			case http.MethodGet:
				w.Header().Set("Content-Type", "application/json")
				w.Write(stored)
			}
		}))
		defer srv.Close()
		c := newTestClient(t, srv.URL)
		path := docid.NewPath("Temperature")

		t.Run("When I PUT a scalar value and then GET it back", func(t *testing.T) {
			err := c.PutValue(t.Context(), "sm:x", path, crdt.NewScalar("21.5", "xs:double"))
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := c.GetValue(t.Context(), "sm:x", path)

			t.Run("Then the read value should match what was written", func(t *testing.T) {
				if err != nil {
					t.Fatalf("get: %v", err)
				}
				if got.ScalarForm != "21.5" || got.ScalarType != "xs:double" {
					t.Errorf("expected 21.5/xs:double, got %+v", got)
				}
			})
		})
	})
}

// Scenario: A 404 on GET is treated as an absent value, not an error
func TestFeature_UpstreamClient_Scenario_GetMissingIsAbsent(t *testing.T) {
	t.Run("Given a server that always responds 404", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()
		c := newTestClient(t, srv.URL)

		t.Run("When I GET a value", func(t *testing.T) {
			got, err := c.GetValue(t.Context(), "sm:x", docid.NewPath("Missing"))

			t.Run("Then it should return Absent with no error", func(t *testing.T) {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.Kind != crdt.KindAbsent {
					t.Errorf("expected Absent, got %+v", got)
				}
			})
		})
	})
}

// Scenario: A 5xx response is retried until it succeeds
func TestFeature_UpstreamClient_Scenario_TransientErrorRetried(t *testing.T) {
	t.Run("Given a server that fails twice then succeeds", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()
		c := newTestClient(t, srv.URL)

		t.Run("When I PUT a value", func(t *testing.T) {
			err := c.PutValue(t.Context(), "sm:x", docid.NewPath("X"), crdt.NewScalar("1", "xs:int"))

			t.Run("Then it should eventually succeed after retrying", func(t *testing.T) {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if calls != 3 {
					t.Errorf("expected 3 calls, got %d", calls)
				}
			})
		})
	})
}

// Scenario: A 4xx response is reported as a permanent upstream-model error, never retried
func TestFeature_UpstreamClient_Scenario_PermanentErrorNotRetried(t *testing.T) {
	t.Run("Given a server that always responds 400", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()
		c := newTestClient(t, srv.URL)

		t.Run("When I PUT a value", func(t *testing.T) {
			err := c.PutValue(t.Context(), "sm:x", docid.NewPath("X"), crdt.NewScalar("1", "xs:int"))

			t.Run("Then it should fail immediately as an upstream-model error, with exactly one call made", func(t *testing.T) {
				if err == nil {
					t.Fatal("expected an error")
				}
				if !pkgerrors.IsUpstreamModel(err) {
					t.Errorf("expected an upstream-model error, got %v", err)
				}
				if calls != 1 {
					t.Errorf("expected exactly 1 call (no retry), got %d", calls)
				}
			})
		})
	})
}

// Scenario: Deleting an element that is already gone is not an error
func TestFeature_UpstreamClient_Scenario_DeleteMissingIsNoop(t *testing.T) {
	t.Run("Given a server that responds 404 to DELETE", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()
		c := newTestClient(t, srv.URL)

		t.Run("When I delete a path", func(t *testing.T) {
			err := c.Delete(t.Context(), "sm:x", docid.NewPath("Gone"))

			t.Run("Then it should succeed without error", func(t *testing.T) {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
			})
		})
	})
}
