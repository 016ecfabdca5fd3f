package errors

import (
	"testing"
)

// BDD-style tests for the errors package
// Feature: Categorized error taxonomy
// As a sync agent component
// I want errors tagged with a handling category
// So that callers can decide retry, abort, or fatal-stop without string matching

// Scenario: Creating a transient I/O error
func TestFeature_CategorizedErrors_Scenario_TransientError(t *testing.T) {
	t.Run("Given an operation that failed with a transient cause", func(t *testing.T) {
		operation := "gossipsub.publish"
		cause := New("connection refused")

		t.Run("When I create a TransientError", func(t *testing.T) {
			err := NewTransientError(operation, cause)

			t.Run("Then the error should have the operation name", func(t *testing.T) {
				if err.Operation != operation {
					t.Errorf("expected operation '%s', got '%s'", operation, err.Operation)
				}
			})

			t.Run("And the error should be categorized as transient_io", func(t *testing.T) {
				if err.Category() != CategoryTransientIO {
					t.Errorf("expected CategoryTransientIO, got %s", err.Category())
				}
			})

			t.Run("And I should be able to unwrap to get the cause", func(t *testing.T) {
				if err.Unwrap() != cause {
					t.Error("Unwrap should return the cause")
				}
			})
		})
	})
}

// Scenario: Creating a persistence error
func TestFeature_CategorizedErrors_Scenario_PersistenceError(t *testing.T) {
	t.Run("Given a durable write that failed", func(t *testing.T) {
		cause := New("disk full")

		t.Run("When I create a PersistenceError", func(t *testing.T) {
			err := NewPersistenceError("delta_log.append", cause)

			t.Run("Then the error should be categorized as persistence", func(t *testing.T) {
				if err.Category() != CategoryPersistence {
					t.Errorf("expected CategoryPersistence, got %s", err.Category())
				}
			})
		})
	})
}

// Scenario: Checking if an error is retryable
func TestFeature_CategorizedErrors_Scenario_RetryableCheck(t *testing.T) {
	t.Run("Given different categories of errors", func(t *testing.T) {
		transientErr := NewTransientError("op", nil)
		protocolErr := NewProtocolError("bad frame", nil)
		plainErr := New("plain error")

		t.Run("When I check if a TransientError is retryable", func(t *testing.T) {
			result := IsRetryable(transientErr)

			t.Run("Then it should return true", func(t *testing.T) {
				if !result {
					t.Error("transient errors should be retryable")
				}
			})
		})

		t.Run("When I check if a ProtocolError is retryable", func(t *testing.T) {
			result := IsRetryable(protocolErr)

			t.Run("Then it should return false", func(t *testing.T) {
				if result {
					t.Error("protocol errors should not be retryable")
				}
			})
		})

		t.Run("When I check if a plain error is retryable", func(t *testing.T) {
			result := IsRetryable(plainErr)

			t.Run("Then it should return false", func(t *testing.T) {
				if result {
					t.Error("plain errors should not be retryable")
				}
			})
		})

		t.Run("When I check if nil is retryable", func(t *testing.T) {
			result := IsRetryable(nil)

			t.Run("Then it should return false", func(t *testing.T) {
				if result {
					t.Error("nil should not be retryable")
				}
			})
		})
	})
}

// Scenario: Distinguishing duplicate replay from a forged delta
func TestFeature_CategorizedErrors_Scenario_DuplicateVersusForged(t *testing.T) {
	t.Run("Given the same delta id seen twice", func(t *testing.T) {
		deltaID := "9f2c61a0b3d4"

		t.Run("When the payload matches exactly", func(t *testing.T) {
			err := NewDuplicateError(deltaID)

			t.Run("Then it should be categorized as duplicate", func(t *testing.T) {
				if err.Category() != CategoryDuplicate {
					t.Errorf("expected CategoryDuplicate, got %s", err.Category())
				}
			})
		})

		t.Run("When the payload differs", func(t *testing.T) {
			err := NewForgedDelta(deltaID)

			t.Run("Then it should be categorized as protocol, not duplicate", func(t *testing.T) {
				if err.Category() != CategoryProtocol {
					t.Errorf("expected CategoryProtocol, got %s", err.Category())
				}
				if IsDuplicate(err) {
					t.Error("a forged delta must not be silently treated as a duplicate")
				}
			})
		})
	})
}

// Scenario: Wrapping errors with context
func TestFeature_CategorizedErrors_Scenario_WrappingErrors(t *testing.T) {
	t.Run("Given an original error", func(t *testing.T) {
		original := New("upstream connection reset")

		t.Run("When I wrap it with context", func(t *testing.T) {
			wrapped := Wrap(original, "failed to fetch submodel")

			t.Run("Then the wrapped error should include both messages", func(t *testing.T) {
				expected := "failed to fetch submodel: upstream connection reset"
				if wrapped.Error() != expected {
					t.Errorf("expected '%s', got '%s'", expected, wrapped.Error())
				}
			})

			t.Run("And I should be able to check if it contains the original", func(t *testing.T) {
				if !Is(wrapped, original) {
					t.Error("wrapped error should contain original")
				}
			})
		})
	})

	t.Run("Given nil", func(t *testing.T) {
		t.Run("When I try to wrap it", func(t *testing.T) {
			result := Wrap(nil, "context")

			t.Run("Then it should return nil", func(t *testing.T) {
				if result != nil {
					t.Error("wrapping nil should return nil")
				}
			})
		})
	})
}

// Scenario: Joining multiple errors
func TestFeature_CategorizedErrors_Scenario_JoiningErrors(t *testing.T) {
	t.Run("Given multiple errors", func(t *testing.T) {
		err1 := New("peer a unreachable")
		err2 := New("peer b unreachable")

		t.Run("When I join them", func(t *testing.T) {
			joined := Join(err1, err2)

			t.Run("Then the joined error should not be nil", func(t *testing.T) {
				if joined == nil {
					t.Fatal("joined error should not be nil")
				}
			})

			t.Run("And it should contain both original errors", func(t *testing.T) {
				if !Is(joined, err1) {
					t.Error("should contain err1")
				}
				if !Is(joined, err2) {
					t.Error("should contain err2")
				}
			})
		})
	})
}

// Scenario: Extracting typed errors with As
func TestFeature_CategorizedErrors_Scenario_ErrorExtraction(t *testing.T) {
	t.Run("Given a wrapped UpstreamModelError", func(t *testing.T) {
		inner := NewUpstreamModelError("/submodels/x", 409)
		wrapped := Wrap(inner, "egress patch failed")

		t.Run("When I extract the UpstreamModelError using As", func(t *testing.T) {
			var target *UpstreamModelError
			found := As(wrapped, &target)

			t.Run("Then the extraction should succeed", func(t *testing.T) {
				if !found {
					t.Fatal("As should find UpstreamModelError")
				}
			})

			t.Run("And the target should have the original values", func(t *testing.T) {
				if target.StatusCode != 409 {
					t.Errorf("expected status 409, got %d", target.StatusCode)
				}
				if target.Path != "/submodels/x" {
					t.Errorf("expected path '/submodels/x', got '%s'", target.Path)
				}
			})
		})
	})

	t.Run("Given a plain error", func(t *testing.T) {
		plainErr := New("something went wrong")

		t.Run("When I try to extract UpstreamModelError", func(t *testing.T) {
			var target *UpstreamModelError
			found := As(plainErr, &target)

			t.Run("Then the extraction should fail", func(t *testing.T) {
				if found {
					t.Error("should not find UpstreamModelError in plain error")
				}
			})
		})
	})
}

// Scenario: Error categories for routing
func TestFeature_CategorizedErrors_Scenario_CategoryRouting(t *testing.T) {
	t.Run("Given errors of different categories", func(t *testing.T) {
		cases := []struct {
			name        string
			err         Categorized
			expectedCat Category
		}{
			{"TransientError", NewTransientError("op", nil), CategoryTransientIO},
			{"ProtocolError", NewProtocolError("bad", nil), CategoryProtocol},
			{"PersistenceError", NewPersistenceError("op", nil), CategoryPersistence},
			{"UpstreamModelError", NewUpstreamModelError("/x", 400), CategoryUpstreamModel},
			{"DuplicateError", NewDuplicateError("id"), CategoryDuplicate},
			{"ForgedDelta", NewForgedDelta("id"), CategoryProtocol},
		}

		for _, tc := range cases {
			t.Run("When I check the category of "+tc.name, func(t *testing.T) {
				t.Run("Then it should return "+string(tc.expectedCat), func(t *testing.T) {
					if tc.err.Category() != tc.expectedCat {
						t.Errorf("expected %s, got %s", tc.expectedCat, tc.err.Category())
					}
				})
			})
		}
	})
}
