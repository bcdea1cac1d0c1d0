package model

import "time"

type HealthStatus string

const (
	StatusConnected HealthStatus = "connected"
	StatusDegraded  HealthStatus = "degraded"
	StatusOffline   HealthStatus = "offline"
	StatusUnknown   HealthStatus = "unknown"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type AlertType string

const (
	AlertOffline            AlertType = "offline"
	AlertFPSDrop            AlertType = "fps_drop"
	AlertViewChange         AlertType = "view_change"
	AlertQualityDegradation AlertType = "quality_degradation"
	AlertNetworkIssue       AlertType = "network_issue"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Camera is read-only to the engine except for baseline updates.
type Camera struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	StreamURL   string  `json:"stream_url"`
	HubID       string  `json:"hub_id"`
	ExpectedFPS float64 `json:"expected_fps"`
	BaselineRef string  `json:"baseline_ref,omitempty"`
}

type InspectionRun struct {
	ID               string     `json:"id"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Status           RunStatus  `json:"status"`
	CamerasTotal     int        `json:"cameras_total"`
	CamerasInspected int        `json:"cameras_inspected"`
	CamerasHealthy   int        `json:"cameras_healthy"`
	CamerasWarning   int        `json:"cameras_warning"`
	CamerasFailed    int        `json:"cameras_failed"`
}

// HealthRecord is append-only; one per camera per run.
type HealthRecord struct {
	CameraID           string       `json:"camera_id"`
	RunID              string       `json:"run_id"`
	Status             HealthStatus `json:"status"`
	MeasuredFPS        float64      `json:"measured_fps"`
	ExpectedFPS        float64      `json:"expected_fps"`
	Width              int          `json:"width"`
	Height             int          `json:"height"`
	LastFrameAt        time.Time    `json:"last_frame_at"`
	Uptime24h          float64      `json:"uptime_24h"`
	LatencyMS          float64      `json:"latency_ms"`
	ViewSimilarity     *float64     `json:"view_similarity,omitempty"`
	ViewChangeDetected bool         `json:"view_change_detected"`
	Brightness         float64      `json:"brightness"`
	Sharpness          float64      `json:"sharpness"`
	CreatedAt          time.Time    `json:"created_at"`
}

type Alert struct {
	ID           string     `json:"id"`
	CameraID     string     `json:"camera_id"`
	Type         AlertType  `json:"type"`
	Severity     Severity   `json:"severity"`
	Message      string     `json:"message"`
	ImageRef     string     `json:"image_ref,omitempty"`
	MuteUntil    *time.Time `json:"mute_until,omitempty"`
	Acknowledged bool       `json:"acknowledged"`
	AckBy        string     `json:"ack_by,omitempty"`
	AckAt        *time.Time `json:"ack_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NotificationRequest is handed to the notification collaborator on alert
// emission. Delivery is best-effort and never rolls back the alert record.
type NotificationRequest struct {
	Recipients []string  `json:"recipients"`
	Severity   Severity  `json:"severity"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	CameraID   string    `json:"camera_id"`
	CameraName string    `json:"camera_name"`
	ImageRef   string    `json:"image_ref,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Muted reports whether the alert's operator mute is active at ts.
func (a Alert) Muted(ts time.Time) bool {
	return a.MuteUntil != nil && ts.Before(*a.MuteUntil)
}
