// Package engine turns health records into alerts. Each qualifying
// condition maps to one alert type; a per-camera, per-type cooldown and
// operator mutes keep the stream from repeating itself while a fault
// persists.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"camguard/internal/alerts"
	"camguard/internal/config"
	"camguard/internal/model"
	"camguard/internal/notify"
	"camguard/internal/storage"
)

// qualityDropFactor flags quality_degradation when brightness or
// sharpness falls below this fraction of the previous record's value.
const qualityDropFactor = 0.4

type Engine struct {
	logger   *slog.Logger
	alerts   *alerts.Store
	store    storage.Store
	notifier notify.Notifier
	cooldown *Cooldown
	mutes    *muteSet
}

func NewEngine(logger *slog.Logger, alertsStore *alerts.Store, store storage.Store, notifier notify.Notifier) *Engine {
	return &Engine{
		logger:   logger,
		alerts:   alertsStore,
		store:    store,
		notifier: notifier,
		cooldown: NewCooldown(),
		mutes:    newMuteSet(),
	}
}

// LoadMutes restores operator mutes that were active when the process
// last stopped. Called once at startup.
func (e *Engine) LoadMutes(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	muted, err := e.store.ListActiveMutes(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("load active mutes: %w", err)
	}
	for _, a := range muted {
		if a.MuteUntil != nil {
			e.mutes.Set(suppressKey(a.CameraID, a.Type), *a.MuteUntil)
		}
	}
	return nil
}

type finding struct {
	typ     model.AlertType
	message string
}

// Evaluate inspects a freshly scored record and emits alerts for every
// qualifying condition that is neither cooling down nor muted. cfg is
// the config snapshot the record was scored under, so a reload landing
// mid-run never splits thresholds between scoring and alerting. prev is
// the camera's record from the previous run, nil on the first run.
func (e *Engine) Evaluate(ctx context.Context, cfg *config.Config, cam model.Camera, rec model.HealthRecord, prev *model.HealthRecord) []model.Alert {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	now := rec.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	findings := e.collect(cfg, cam, rec, prev)
	var out []model.Alert
	for _, f := range findings {
		key := suppressKey(cam.ID, f.typ)
		if e.mutes.Active(key, now) {
			continue
		}
		if !e.cooldown.Allow(key, e.cooldownFor(cfg, f.typ), now) {
			continue
		}
		alert := model.Alert{
			ID:        uuid.NewString(),
			CameraID:  cam.ID,
			Type:      f.typ,
			Severity:  severityFor(cfg, f.typ),
			Message:   f.message,
			CreatedAt: now,
		}
		if f.typ == model.AlertViewChange {
			alert.ImageRef = cam.BaselineRef
		}
		e.emit(ctx, cfg, cam, alert)
		out = append(out, alert)
	}
	return out
}

func (e *Engine) collect(cfg *config.Config, cam model.Camera, rec model.HealthRecord, prev *model.HealthRecord) []finding {
	insp := cfg.Inspection
	var findings []finding

	if rec.Status == model.StatusOffline {
		findings = append(findings, finding{
			typ:     model.AlertOffline,
			message: fmt.Sprintf("camera %s is offline, last frame at %s", cam.Name, lastFrameDesc(rec.LastFrameAt)),
		})
		// Everything else is noise while the stream is down.
		return findings
	}

	if rec.ViewChangeDetected {
		msg := fmt.Sprintf("camera %s view changed from baseline", cam.Name)
		if rec.ViewSimilarity != nil {
			msg = fmt.Sprintf("camera %s view changed from baseline, similarity %.2f", cam.Name, *rec.ViewSimilarity)
		}
		findings = append(findings, finding{typ: model.AlertViewChange, message: msg})
	}

	if rec.ExpectedFPS > 0 && rec.MeasuredFPS < insp.FPSDropThresholdPct*rec.ExpectedFPS {
		findings = append(findings, finding{
			typ:     model.AlertFPSDrop,
			message: fmt.Sprintf("camera %s measured %.1f fps, expected %.1f", cam.Name, rec.MeasuredFPS, rec.ExpectedFPS),
		})
	}

	if rec.LatencyMS > float64(insp.LatencyThreshold.Milliseconds()) {
		findings = append(findings, finding{
			typ:     model.AlertNetworkIssue,
			message: fmt.Sprintf("camera %s first frame took %.0fms", cam.Name, rec.LatencyMS),
		})
	}

	if prev != nil && qualityDropped(rec, *prev) {
		findings = append(findings, finding{
			typ:     model.AlertQualityDegradation,
			message: fmt.Sprintf("camera %s image quality dropped, brightness %.1f (was %.1f), sharpness %.1f (was %.1f)", cam.Name, rec.Brightness, prev.Brightness, rec.Sharpness, prev.Sharpness),
		})
	}
	return findings
}

func qualityDropped(rec, prev model.HealthRecord) bool {
	if prev.Brightness > 0 && rec.Brightness < qualityDropFactor*prev.Brightness {
		return true
	}
	if prev.Sharpness > 0 && rec.Sharpness < qualityDropFactor*prev.Sharpness {
		return true
	}
	return false
}

func (e *Engine) emit(ctx context.Context, cfg *config.Config, cam model.Camera, alert model.Alert) {
	e.alerts.Add(alert)
	if e.logger != nil {
		e.logger.Warn("alert raised",
			"alert_id", alert.ID,
			"camera_id", alert.CameraID,
			"type", alert.Type,
			"severity", alert.Severity,
		)
	}
	if e.store != nil {
		if err := e.store.SaveAlert(ctx, alert); err != nil && e.logger != nil {
			e.logger.Error("persist alert failed", "alert_id", alert.ID, "err", err)
		}
	}
	if e.notifier != nil && len(cfg.Notify.Recipients) > 0 {
		req := model.NotificationRequest{
			Recipients: cfg.Notify.Recipients,
			Severity:   alert.Severity,
			Subject:    fmt.Sprintf("[camguard] %s: %s", alert.Severity, alert.Type),
			Message:    alert.Message,
			CameraID:   cam.ID,
			CameraName: cam.Name,
			ImageRef:   alert.ImageRef,
			Timestamp:  alert.CreatedAt,
		}
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = e.notifier.Send(sendCtx, req)
		}()
	}
}

// Acknowledge marks the alert handled by an operator. It does not
// suppress future alerts for the same condition.
func (e *Engine) Acknowledge(ctx context.Context, id, actor string) (model.Alert, error) {
	now := time.Now().UTC()
	if e.store != nil {
		if err := e.store.AcknowledgeAlert(ctx, id, actor, now); err != nil {
			return model.Alert{}, err
		}
	}
	e.alerts.Apply(id, func(a *model.Alert) {
		a.Acknowledged = true
		a.AckBy = actor
		a.AckAt = &now
	})
	return e.lookup(ctx, id)
}

// Mute silences the alert's (camera, type) pair for the given duration.
func (e *Engine) Mute(ctx context.Context, id string, d time.Duration) (model.Alert, error) {
	if d <= 0 {
		return model.Alert{}, fmt.Errorf("mute duration must be positive")
	}
	until := time.Now().UTC().Add(d)
	if e.store != nil {
		if err := e.store.MuteAlert(ctx, id, until); err != nil {
			return model.Alert{}, err
		}
	}
	e.alerts.Apply(id, func(a *model.Alert) {
		a.MuteUntil = &until
	})
	alert, err := e.lookup(ctx, id)
	if err != nil {
		return model.Alert{}, err
	}
	e.mutes.Set(suppressKey(alert.CameraID, alert.Type), until)
	return alert, nil
}

func (e *Engine) lookup(ctx context.Context, id string) (model.Alert, error) {
	if a, ok := e.alerts.Get(id); ok {
		return a, nil
	}
	if e.store != nil {
		return e.store.GetAlert(ctx, id)
	}
	return model.Alert{}, storage.ErrNotFound
}

func (e *Engine) cooldownFor(cfg *config.Config, typ model.AlertType) time.Duration {
	if d, ok := cfg.Alerts.Cooldowns[string(typ)]; ok {
		return d
	}
	return cfg.Alerts.DefaultCooldown
}

func severityFor(cfg *config.Config, typ model.AlertType) model.Severity {
	if s, ok := cfg.Alerts.SeverityOverrides[string(typ)]; ok {
		return model.Severity(s)
	}
	switch typ {
	case model.AlertOffline, model.AlertViewChange:
		return model.SeverityCritical
	default:
		return model.SeverityWarning
	}
}

func suppressKey(cameraID string, typ model.AlertType) string {
	return cameraID + "|" + string(typ)
}

func lastFrameDesc(ts time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	return ts.UTC().Format(time.RFC3339)
}
