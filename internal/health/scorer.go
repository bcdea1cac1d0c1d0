// Package health turns probe and view-change measurements into a HealthRecord
// status. Scoring is a pure function of its inputs so a record can be
// rebuilt, and re-run, deterministically.
package health

import (
	"time"

	"camguard/internal/config"
	"camguard/internal/model"
	"camguard/internal/probe"
	"camguard/internal/vision"
)

type Inputs struct {
	Camera model.Camera
	RunID  string
	Probe  probe.Result
	// View is nil when the camera has no baseline image.
	View *vision.Result
	// StickyViewChange carries a prior run's view-change flag; it is cleared
	// only by an explicit baseline update, never by the passage of time.
	StickyViewChange bool
	// LastFrameAt is the last successful frame timestamp across runs, zero
	// when the camera has never delivered a frame.
	LastFrameAt time.Time
	Now         time.Time
}

// Score derives the record status in precedence order: unreachable, stale
// frame, view change, fps drop, latency, connected. First match wins;
// offline always beats a stale view-change flag.
func Score(in Inputs, cfg config.InspectionConfig) model.HealthRecord {
	rec := model.HealthRecord{
		CameraID:    in.Camera.ID,
		RunID:       in.RunID,
		MeasuredFPS: in.Probe.FPS,
		ExpectedFPS: in.Camera.ExpectedFPS,
		Width:       in.Probe.Width,
		Height:      in.Probe.Height,
		LatencyMS:   in.Probe.LatencyMS,
		Brightness:  in.Probe.Brightness,
		Sharpness:   in.Probe.Sharpness,
		CreatedAt:   in.Now,
	}

	if in.Probe.FrameCount > 0 {
		rec.LastFrameAt = in.Probe.FrameAt
	} else {
		rec.LastFrameAt = in.LastFrameAt
	}

	viewChanged := in.StickyViewChange
	if in.View != nil {
		sim := in.View.Similarity
		rec.ViewSimilarity = &sim
		if in.View.ChangeDetected {
			viewChanged = true
		}
	}
	rec.ViewChangeDetected = viewChanged

	switch {
	case in.Probe.Unreachable:
		rec.Status = model.StatusOffline
	case rec.LastFrameAt.IsZero(), in.Now.Sub(rec.LastFrameAt) > cfg.OfflineThreshold:
		rec.Status = model.StatusOffline
	case viewChanged:
		rec.Status = model.StatusDegraded
	case in.Camera.ExpectedFPS > 0 && in.Probe.FPS < cfg.FPSDropThresholdPct*in.Camera.ExpectedFPS:
		rec.Status = model.StatusDegraded
	case in.Probe.LatencyMS > float64(cfg.LatencyThreshold.Milliseconds()):
		rec.Status = model.StatusDegraded
	default:
		rec.Status = model.StatusConnected
	}
	return rec
}

type Bucket string

const (
	BucketHealthy Bucket = "healthy"
	BucketWarning Bucket = "warning"
	BucketFailed  Bucket = "failed"
)

// Classify buckets a record for run counts and the dashboard summary. A
// critical condition (offline, view change) lands in the failed bucket; other
// degradations are warnings. The same bucketing is used everywhere.
func Classify(rec model.HealthRecord) Bucket {
	switch rec.Status {
	case model.StatusConnected:
		return BucketHealthy
	case model.StatusDegraded:
		if rec.ViewChangeDetected {
			return BucketFailed
		}
		return BucketWarning
	default:
		return BucketFailed
	}
}

// Uptime24h computes the fraction of the camera's last-24h inspections that
// resolved to connected. Inspections that never ran leave no record and are
// excluded from the denominator. Callers include the record just scored, so
// a camera's first record reads its own outcome rather than an ambiguous
// zero; with no records at all there is no history to speak of and the
// result is 0.
func Uptime24h(records []model.HealthRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	connected := 0
	for _, r := range records {
		if r.Status == model.StatusConnected {
			connected++
		}
	}
	return float64(connected) / float64(len(records))
}
