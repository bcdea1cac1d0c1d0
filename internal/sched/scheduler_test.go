package sched

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"camguard/internal/alerts"
	"camguard/internal/baseline"
	"camguard/internal/config"
	"camguard/internal/engine"
	"camguard/internal/fleet"
	"camguard/internal/model"
	"camguard/internal/probe"
	"camguard/internal/status"
	"camguard/internal/storage"
)

type fakeProber struct {
	results map[string]probe.Result
	block   chan struct{}
}

func (p *fakeProber) Probe(ctx context.Context, cam model.Camera) probe.Result {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
		}
	}
	return p.results[cam.ID]
}

type failFleet struct{}

func (failFleet) List(ctx context.Context) ([]model.Camera, error) {
	return nil, errors.New("fleet source unavailable")
}

func flatFrame(w, h int, v uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func checkerFrame(w, h, cell int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

type testHarness struct {
	sched *Scheduler
	store storage.Store
	ring  *alerts.Store
	stat  *status.Store
	base  baseline.Store
}

func testFleetConfig() config.FleetConfig {
	return config.FleetConfig{
		Source: "static",
		Cameras: []config.CameraConfig{
			{ID: "cam-a", Name: "Gate", StreamURL: "rtsp://10.0.0.1/live", ExpectedFPS: 30},
			{ID: "cam-b", Name: "Yard", StreamURL: "rtsp://10.0.0.2/live", ExpectedFPS: 30},
			{ID: "cam-c", Name: "Dock", StreamURL: "rtsp://10.0.0.3/live", ExpectedFPS: 30},
		},
	}
}

func newTestHarness(t *testing.T, prober probe.Prober) *testHarness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Fleet = testFleetConfig()
	cfg.Inspection.PoolSize = 2
	cfg.Storage = config.StorageConfig{Driver: "sqlite", DSN: "file:" + filepath.Join(t.TempDir(), "test.db")}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	baselines, err := baseline.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("baseline store: %v", err)
	}

	manager := config.NewStaticManager(cfg)
	ring := alerts.NewStore(100)
	stat := status.NewStore()
	eng := engine.NewEngine(nil, ring, store, nil)
	provider, err := fleet.NewProvider(cfg, store)
	if err != nil {
		t.Fatalf("fleet provider: %v", err)
	}
	return &testHarness{
		sched: New(manager, nil, provider, prober, baselines, store, stat, eng),
		store: store,
		ring:  ring,
		stat:  stat,
		base:  baselines,
	}
}

func TestRunOnceBucketsAndPersists(t *testing.T) {
	now := time.Now().UTC()
	prober := &fakeProber{results: map[string]probe.Result{
		"cam-a": {Unreachable: true},
		"cam-b": {FPS: 8, Width: 640, Height: 480, LatencyMS: 150, FrameCount: 30, LastFrame: flatFrame(64, 48, 120), FrameAt: now, Brightness: 120, Sharpness: 40},
		"cam-c": {FPS: 29, Width: 640, Height: 480, LatencyMS: 120, FrameCount: 30, LastFrame: flatFrame(64, 48, 128), FrameAt: now, Brightness: 128, Sharpness: 50},
	}}
	h := newTestHarness(t, prober)

	// cam-c has a structured baseline; the flat probe frame no longer
	// resembles it.
	if _, err := h.base.Put("cam-c", checkerFrame(64, 48, 4)); err != nil {
		t.Fatalf("seed baseline: %v", err)
	}

	run, err := h.sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != model.RunCompleted || run.FinishedAt == nil {
		t.Fatalf("run not completed: %+v", run)
	}
	if run.CamerasTotal != 3 || run.CamerasInspected != 3 {
		t.Fatalf("wrong totals: %+v", run)
	}
	if run.CamerasHealthy != 0 || run.CamerasWarning != 1 || run.CamerasFailed != 2 {
		t.Fatalf("wrong buckets: %+v", run)
	}

	stored, err := h.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if stored.Status != model.RunCompleted || stored.CamerasFailed != 2 {
		t.Fatalf("run row mismatch: %+v", stored)
	}

	for id, want := range map[string]model.HealthStatus{
		"cam-a": model.StatusOffline,
		"cam-b": model.StatusDegraded,
		"cam-c": model.StatusDegraded,
	} {
		recs, err := h.store.ListHealthRecords(context.Background(), id, time.Time{})
		if err != nil || len(recs) != 1 {
			t.Fatalf("records for %s: %v %v", id, recs, err)
		}
		if recs[0].Status != want {
			t.Fatalf("%s status %s, want %s", id, recs[0].Status, want)
		}
	}

	types := map[model.AlertType]string{}
	for _, a := range h.ring.List(10) {
		types[a.Type] = a.CameraID
	}
	if types[model.AlertOffline] != "cam-a" || types[model.AlertFPSDrop] != "cam-b" || types[model.AlertViewChange] != "cam-c" {
		t.Fatalf("unexpected alert set: %v", types)
	}
}

func TestTriggerRejectedWhileRunning(t *testing.T) {
	block := make(chan struct{})
	prober := &fakeProber{block: block, results: map[string]probe.Result{}}
	h := newTestHarness(t, prober)

	first, err := h.sched.TriggerRun()
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := h.sched.TriggerRun(); !errors.Is(err, ErrRunInFlight) {
		t.Fatalf("expected ErrRunInFlight, got %v", err)
	}
	if cur, running := h.sched.CurrentRun(); !running || cur.ID != first.ID {
		t.Fatalf("expected run %s in flight", first.ID)
	}

	close(block)
	deadline := time.After(5 * time.Second)
	for {
		if _, running := h.sched.CurrentRun(); !running {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("run did not finish")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if _, err := h.sched.TriggerRun(); err != nil {
		t.Fatalf("trigger after finish: %v", err)
	}
}

func TestRunFailsWhenFleetUnavailable(t *testing.T) {
	h := newTestHarness(t, &fakeProber{results: map[string]probe.Result{}})
	h.sched.fleet = failFleet{}

	run, err := h.sched.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if run.Status != model.RunFailed || run.FinishedAt == nil {
		t.Fatalf("expected failed run, got %+v", run)
	}
	stored, err := h.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if stored.Status != model.RunFailed {
		t.Fatalf("run row status %s", stored.Status)
	}

	// The scheduler is free again after a failed run.
	if _, err := h.sched.TriggerRun(); err != nil {
		t.Fatalf("trigger after failure: %v", err)
	}
}

func TestViewChangeStickyUntilBaselineUpdate(t *testing.T) {
	now := time.Now().UTC()
	goodFrame := probe.Result{FPS: 29, Width: 640, Height: 480, LatencyMS: 100, FrameCount: 30, LastFrame: flatFrame(64, 48, 128), FrameAt: now, Brightness: 128, Sharpness: 50}
	prober := &fakeProber{results: map[string]probe.Result{
		"cam-a": goodFrame, "cam-b": goodFrame, "cam-c": goodFrame,
	}}
	h := newTestHarness(t, prober)
	if _, err := h.base.Put("cam-c", checkerFrame(64, 48, 4)); err != nil {
		t.Fatalf("seed baseline: %v", err)
	}

	if _, err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !h.stat.ViewChanged("cam-c") {
		t.Fatalf("expected sticky view-change flag")
	}

	// Re-baselining on the current scene clears the flag; the next run
	// compares against the new reference and stays clean.
	cam, err := h.sched.UpdateBaseline(context.Background(), "cam-c")
	if err != nil {
		t.Fatalf("update baseline: %v", err)
	}
	if cam.BaselineRef == "" {
		t.Fatalf("baseline ref not set")
	}
	if h.stat.ViewChanged("cam-c") {
		t.Fatalf("view-change flag should be cleared")
	}

	if _, err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	st, ok := h.stat.Get("cam-c")
	if !ok {
		t.Fatalf("missing status for cam-c")
	}
	if st.Record.ViewChangeDetected {
		t.Fatalf("view change should not re-trigger against the new baseline")
	}
}

type gatedFleet struct {
	cams    []model.Camera
	release chan struct{}
}

func (g *gatedFleet) List(ctx context.Context) ([]model.Camera, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return g.cams, nil
}

func waitForRunStatus(t *testing.T, h *testHarness, runID string, want model.RunStatus) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		stored, err := h.store.GetRun(context.Background(), runID)
		if err == nil && stored.Status == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("run %s never reached %s (last: %+v, err %v)", runID, want, stored, err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunRowPassesThroughPendingAndRunning(t *testing.T) {
	fleetGate := make(chan struct{})
	probeGate := make(chan struct{})
	prober := &fakeProber{block: probeGate, results: map[string]probe.Result{}}
	h := newTestHarness(t, prober)
	h.sched.fleet = &gatedFleet{
		cams:    []model.Camera{{ID: "cam-a", Name: "Gate", StreamURL: "rtsp://10.0.0.1/live", ExpectedFPS: 30}},
		release: fleetGate,
	}

	run, err := h.sched.TriggerRun()
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if run.Status != model.RunPending {
		t.Fatalf("fresh run status %s, want pending", run.Status)
	}

	// Before the fleet snapshot resolves, the persisted row is pending.
	stored, err := h.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if stored.Status != model.RunPending {
		t.Fatalf("stored status %s, want pending", stored.Status)
	}

	close(fleetGate)
	waitForRunStatus(t, h, run.ID, model.RunRunning)

	close(probeGate)
	waitForRunStatus(t, h, run.ID, model.RunCompleted)
}

func TestFirstRunUptimeReflectsProbeOutcome(t *testing.T) {
	now := time.Now().UTC()
	goodFrame := probe.Result{FPS: 29, Width: 640, Height: 480, LatencyMS: 100, FrameCount: 30, LastFrame: flatFrame(64, 48, 128), FrameAt: now, Brightness: 128, Sharpness: 50}
	prober := &fakeProber{results: map[string]probe.Result{
		"cam-a": goodFrame,
		"cam-b": {Unreachable: true},
		"cam-c": goodFrame,
	}}
	h := newTestHarness(t, prober)

	if _, err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	uptime := func(id string, wantRecords int) float64 {
		t.Helper()
		recs, err := h.store.ListHealthRecords(context.Background(), id, time.Time{})
		if err != nil || len(recs) != wantRecords {
			t.Fatalf("records for %s: %v %v", id, recs, err)
		}
		return recs[len(recs)-1].Uptime24h
	}

	// The first record counts its own inspection, not an empty history.
	if got := uptime("cam-a", 1); got != 1 {
		t.Fatalf("cam-a first uptime %f, want 1", got)
	}
	if got := uptime("cam-b", 1); got != 0 {
		t.Fatalf("cam-b first uptime %f, want 0", got)
	}

	// cam-b recovers: one of its two inspections was connected.
	prober.results["cam-b"] = goodFrame
	if _, err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := uptime("cam-a", 2); got != 1 {
		t.Fatalf("cam-a uptime %f, want 1", got)
	}
	if got := uptime("cam-b", 2); got != 0.5 {
		t.Fatalf("cam-b uptime %f, want 0.5", got)
	}
}

func TestUpdateBaselineUnknownCamera(t *testing.T) {
	h := newTestHarness(t, &fakeProber{results: map[string]probe.Result{}})
	if _, err := h.sched.UpdateBaseline(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
