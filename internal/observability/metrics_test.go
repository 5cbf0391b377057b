package observability

import (
	"strings"
	"testing"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("stake_slashed_total", map[string]string{"source": "dispute"}, 80)
	r.SetGauge("fees_held", nil, 7)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `stake_slashed_total{source="dispute"} 80`) {
		t.Fatalf("missing slash counter in output: %s", out)
	}
	if !strings.Contains(out, "fees_held 7") {
		t.Fatalf("missing held gauge in output: %s", out)
	}
}

func TestCounterAccumulatesAcrossLabels(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("registry_transitions_total", map[string]string{"to": "Committed"}, 1)
	r.IncCounter("registry_transitions_total", map[string]string{"to": "Committed"}, 1)
	r.IncCounter("registry_transitions_total", map[string]string{"to": "Revealed"}, 1)

	snap := r.Snapshot()
	if len(snap.Counters) != 2 {
		t.Fatalf("expected 2 counter series, got %d", len(snap.Counters))
	}
	for _, c := range snap.Counters {
		if c.Labels["to"] == "Committed" && c.Value != 2 {
			t.Fatalf("expected Committed=2, got %v", c.Value)
		}
	}
}

func TestSeriesIdentitySortsLabels(t *testing.T) {
	id, _ := seriesIdentity("lifecycle_total", map[string]string{"to": "Revealed", "from": "Committed"})
	if id != `lifecycle_total{from="Committed",to="Revealed"}` {
		t.Fatalf("unexpected identity %q", id)
	}
	id, labels := seriesIdentity("bare", nil)
	if id != "bare" || labels != nil {
		t.Fatalf("unexpected bare identity %q labels %v", id, labels)
	}
}

func TestPromNameSanitizes(t *testing.T) {
	if got := promName("1bad name!"); got != "_bad_name_" {
		t.Fatalf("unexpected sanitized name %q", got)
	}
	if got := promName(""); got != "stakemarket_metric" {
		t.Fatalf("unexpected fallback name %q", got)
	}
}
