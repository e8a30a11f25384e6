package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizePlatform(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase", "youtube", "youtube"},
		{"mixed case", "YouTube", "youtube"},
		{"padded", "  vimeo  ", "vimeo"},
		{"direct", "direct", "direct"},
		{"empty string", "", "unknown"},
		{"whitespace only", "   ", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizePlatform(tc.input); got != tc.expected {
				t.Errorf("SanitizePlatform(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	vaultTasksTotal = nil
	vaultItemsTotal = nil
	httpRequestsTotal = nil
	httpRequestDurationSeconds = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if vaultTasksTotal == nil || vaultItemsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	// A simple check to see if a metric can be used.
	vaultTasksTotal.WithLabelValues("completed").Inc()
	if val := testutil.ToFloat64(vaultTasksTotal); val != 1 {
		t.Errorf("Expected vaultTasksTotal to be 1, got %f", val)
	}
}

func TestObserveItem(t *testing.T) {
	Init()

	ObserveItem("YouTube", "completed", 2048)
	ObserveItem("youtube", "completed", 0)
	ObserveItem("", "failed", 10)

	if val := testutil.ToFloat64(vaultItemsTotal.WithLabelValues("youtube", "completed")); val != 2 {
		t.Errorf("Expected youtube/completed items to be 2, got %f", val)
	}
	if val := testutil.ToFloat64(vaultBytesStoredTotal.WithLabelValues("youtube")); val != 2048 {
		t.Errorf("Expected youtube bytes to be 2048, got %f", val)
	}
	if val := testutil.ToFloat64(vaultItemsTotal.WithLabelValues("unknown", "failed")); val != 1 {
		t.Errorf("Expected unknown/failed items to be 1, got %f", val)
	}
}

func TestObserveCacheLookup(t *testing.T) {
	Init()

	ObserveCacheLookup(true)
	ObserveCacheLookup(true)
	ObserveCacheLookup(false)

	if val := testutil.ToFloat64(vaultCacheLookupsTotal.WithLabelValues("hit")); val != 2 {
		t.Errorf("Expected 2 cache hits, got %f", val)
	}
	if val := testutil.ToFloat64(vaultCacheLookupsTotal.WithLabelValues("miss")); val != 1 {
		t.Errorf("Expected 1 cache miss, got %f", val)
	}
}

func TestObserveTaskDuration(t *testing.T) {
	Init()

	ObserveTask("failed", 3*time.Second)
	ObserveTask("failed", 0)

	if val := testutil.ToFloat64(vaultTasksTotal.WithLabelValues("failed")); val != 2 {
		t.Errorf("Expected 2 failed tasks, got %f", val)
	}
	if val := testutil.CollectAndCount(vaultTaskDurationSeconds); val <= 0 {
		t.Errorf("Expected vaultTaskDurationSeconds to be observed, got %d", val)
	}
}

// Fuzz test for SanitizePlatform.
func FuzzSanitizePlatform(f *testing.F) {
	testcases := []string{"youtube", "Vimeo", "  direct  ", ""}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizePlatform(orig)
		if sanitized == "" {
			t.Errorf("SanitizePlatform(%q) returned an empty string", orig)
		}
	})
}
