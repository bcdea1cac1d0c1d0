package alerts

import (
	"fmt"
	"testing"
	"time"

	"camguard/internal/model"
)

func makeAlert(i int, ts time.Time) model.Alert {
	return model.Alert{
		ID:        fmt.Sprintf("alert-%d", i),
		CameraID:  "cam-01",
		Type:      model.AlertOffline,
		Severity:  model.SeverityCritical,
		CreatedAt: ts,
	}
}

func TestRingEvictsOldest(t *testing.T) {
	s := NewStore(3)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		s.Add(makeAlert(i, base.Add(time.Duration(i)*time.Minute)))
	}
	got := s.List(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(got))
	}
	if got[0].ID != "alert-2" || got[2].ID != "alert-4" {
		t.Fatalf("wrong window: %v", got)
	}
	if _, ok := s.Get("alert-0"); ok {
		t.Fatalf("evicted alert still present")
	}
}

func TestSinceFilters(t *testing.T) {
	s := NewStore(10)
	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		s.Add(makeAlert(i, base.Add(time.Duration(i)*time.Hour)))
	}
	got := s.Since(base.Add(90 * time.Minute))
	if len(got) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(got))
	}
}

func TestApplyMirrorsUpdate(t *testing.T) {
	s := NewStore(10)
	s.Add(makeAlert(1, time.Now().UTC()))

	if ok := s.Apply("alert-1", func(a *model.Alert) { a.Acknowledged = true; a.AckBy = "ops" }); !ok {
		t.Fatalf("apply failed")
	}
	got, ok := s.Get("alert-1")
	if !ok || !got.Acknowledged || got.AckBy != "ops" {
		t.Fatalf("update not mirrored: %+v", got)
	}
	if ok := s.Apply("missing", func(a *model.Alert) {}); ok {
		t.Fatalf("apply on missing id should report false")
	}
}
