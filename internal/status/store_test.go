package status

import (
	"testing"
	"time"

	"camguard/internal/model"
)

func TestLastFrameAtNeverGoesBackward(t *testing.T) {
	s := NewStore()
	cam := model.Camera{ID: "cam-01"}
	now := time.Now().UTC()

	s.Update(cam, model.HealthRecord{CameraID: cam.ID, Status: model.StatusConnected, LastFrameAt: now})
	// An offline inspection carries the stale frame time forward; it must
	// not overwrite a newer one, and a zero time is ignored entirely.
	s.Update(cam, model.HealthRecord{CameraID: cam.ID, Status: model.StatusOffline, LastFrameAt: now.Add(-time.Hour)})
	s.Update(cam, model.HealthRecord{CameraID: cam.ID, Status: model.StatusOffline})

	if got := s.LastFrameAt(cam.ID); !got.Equal(now) {
		t.Fatalf("last frame %v, want %v", got, now)
	}
}

func TestViewChangeStickyUntilCleared(t *testing.T) {
	s := NewStore()
	cam := model.Camera{ID: "cam-01"}

	s.Update(cam, model.HealthRecord{CameraID: cam.ID, Status: model.StatusDegraded, ViewChangeDetected: true})
	if !s.ViewChanged(cam.ID) {
		t.Fatalf("flag not set")
	}
	// A later clean record does not clear the flag.
	s.Update(cam, model.HealthRecord{CameraID: cam.ID, Status: model.StatusConnected})
	if !s.ViewChanged(cam.ID) {
		t.Fatalf("flag cleared by a clean record")
	}
	s.ClearViewChange(cam.ID)
	if s.ViewChanged(cam.ID) {
		t.Fatalf("flag survived explicit clear")
	}
}

func TestGetAllReflectsLatestRecord(t *testing.T) {
	s := NewStore()
	s.Update(model.Camera{ID: "a"}, model.HealthRecord{CameraID: "a", Status: model.StatusConnected})
	s.Update(model.Camera{ID: "a"}, model.HealthRecord{CameraID: "a", Status: model.StatusDegraded})
	s.Update(model.Camera{ID: "b"}, model.HealthRecord{CameraID: "b", Status: model.StatusOffline})

	all := s.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(all))
	}
	st, ok := s.Get("a")
	if !ok || st.Record.Status != model.StatusDegraded {
		t.Fatalf("latest record not kept: %+v", st)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatalf("unexpected entry")
	}
}
