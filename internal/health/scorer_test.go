package health

import (
	"testing"
	"time"

	"camguard/internal/config"
	"camguard/internal/model"
	"camguard/internal/probe"
	"camguard/internal/vision"
)

func testThresholds() config.InspectionConfig {
	return config.DefaultConfig().Inspection
}

func reachableProbe(fps float64, now time.Time) probe.Result {
	return probe.Result{
		FPS:        fps,
		Width:      640,
		Height:     480,
		LatencyMS:  120,
		Brightness: 110,
		Sharpness:  45,
		FrameCount: 30,
		FrameAt:    now,
	}
}

func baseInputs(now time.Time) Inputs {
	return Inputs{
		Camera: model.Camera{ID: "cam1", ExpectedFPS: 30},
		RunID:  "run1",
		Probe:  reachableProbe(29, now),
		Now:    now,
	}
}

func TestUnreachableIsOffline(t *testing.T) {
	now := time.Now().UTC()
	in := baseInputs(now)
	in.Probe = probe.Result{Unreachable: true}
	// Stale view-change state must not mask an offline camera.
	in.StickyViewChange = true
	rec := Score(in, testThresholds())
	if rec.Status != model.StatusOffline {
		t.Fatalf("status %s, want offline", rec.Status)
	}
}

func TestStaleLastFrameIsOffline(t *testing.T) {
	now := time.Now().UTC()
	in := baseInputs(now)
	in.Probe = probe.Result{}
	in.LastFrameAt = now.Add(-time.Hour)
	rec := Score(in, testThresholds())
	if rec.Status != model.StatusOffline {
		t.Fatalf("status %s, want offline", rec.Status)
	}

	in.LastFrameAt = time.Time{}
	rec = Score(in, testThresholds())
	if rec.Status != model.StatusOffline {
		t.Fatalf("never-seen camera status %s, want offline", rec.Status)
	}
}

func TestViewChangeIsDegraded(t *testing.T) {
	now := time.Now().UTC()
	in := baseInputs(now)
	in.View = &vision.Result{Similarity: 0.4, ChangeDetected: true}
	rec := Score(in, testThresholds())
	if rec.Status != model.StatusDegraded {
		t.Fatalf("status %s, want degraded", rec.Status)
	}
	if !rec.ViewChangeDetected {
		t.Fatalf("view change flag not carried onto record")
	}
	if rec.ViewSimilarity == nil || *rec.ViewSimilarity != 0.4 {
		t.Fatalf("similarity not carried onto record")
	}
}

func TestStickyViewChangePersists(t *testing.T) {
	now := time.Now().UTC()
	in := baseInputs(now)
	in.StickyViewChange = true
	rec := Score(in, testThresholds())
	if rec.Status != model.StatusDegraded || !rec.ViewChangeDetected {
		t.Fatalf("sticky view change ignored: %+v", rec)
	}
}

func TestFPSDropIsDegraded(t *testing.T) {
	now := time.Now().UTC()
	in := baseInputs(now)
	in.Probe = reachableProbe(8, now)
	rec := Score(in, testThresholds())
	if rec.Status != model.StatusDegraded {
		t.Fatalf("status %s, want degraded (8 of 30 fps)", rec.Status)
	}
}

func TestLatencyIsDegraded(t *testing.T) {
	now := time.Now().UTC()
	in := baseInputs(now)
	in.Probe.LatencyMS = 5000
	rec := Score(in, testThresholds())
	if rec.Status != model.StatusDegraded {
		t.Fatalf("status %s, want degraded (5s latency)", rec.Status)
	}
}

func TestHealthyIsConnected(t *testing.T) {
	now := time.Now().UTC()
	rec := Score(baseInputs(now), testThresholds())
	if rec.Status != model.StatusConnected {
		t.Fatalf("status %s, want connected", rec.Status)
	}
}

func TestScoreIdempotent(t *testing.T) {
	now := time.Now().UTC()
	in := baseInputs(now)
	in.View = &vision.Result{Similarity: 0.65, ChangeDetected: true}
	a := Score(in, testThresholds())
	b := Score(in, testThresholds())
	if a.Status != b.Status || a.ViewChangeDetected != b.ViewChangeDetected {
		t.Fatalf("scorer not idempotent: %+v vs %+v", a, b)
	}
}

// Fleet scenario from the design review: A unreachable, B at 8 of 30 fps,
// C with view similarity 0.4 against threshold 0.7.
func TestFleetScenarioBuckets(t *testing.T) {
	now := time.Now().UTC()
	cfg := testThresholds()

	a := baseInputs(now)
	a.Camera.ID = "A"
	a.Probe = probe.Result{Unreachable: true}

	b := baseInputs(now)
	b.Camera.ID = "B"
	b.Probe = reachableProbe(8, now)

	c := baseInputs(now)
	c.Camera.ID = "C"
	c.View = &vision.Result{Similarity: 0.4, ChangeDetected: true}

	recA := Score(a, cfg)
	recB := Score(b, cfg)
	recC := Score(c, cfg)

	if recA.Status != model.StatusOffline {
		t.Fatalf("A status %s, want offline", recA.Status)
	}
	if recB.Status != model.StatusDegraded {
		t.Fatalf("B status %s, want degraded", recB.Status)
	}
	if recC.Status != model.StatusDegraded || !recC.ViewChangeDetected {
		t.Fatalf("C status %s viewChange=%v, want degraded view change", recC.Status, recC.ViewChangeDetected)
	}

	if Classify(recA) != BucketFailed {
		t.Fatalf("A should bucket failed")
	}
	if Classify(recB) != BucketWarning {
		t.Fatalf("B should bucket warning")
	}
	if Classify(recC) != BucketFailed {
		t.Fatalf("C should bucket failed (critical view change)")
	}
}

func TestUptimeExcludesUnranSlots(t *testing.T) {
	recs := []model.HealthRecord{
		{Status: model.StatusConnected},
		{Status: model.StatusConnected},
		{Status: model.StatusOffline},
		{Status: model.StatusDegraded},
	}
	got := Uptime24h(recs)
	if got != 0.5 {
		t.Fatalf("uptime %f, want 0.5", got)
	}
	if Uptime24h(nil) != 0 {
		t.Fatalf("no records should yield 0 uptime")
	}
}
