package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"camguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/camguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			cameras_total INTEGER NOT NULL,
			cameras_inspected INTEGER NOT NULL,
			cameras_healthy INTEGER NOT NULL,
			cameras_warning INTEGER NOT NULL,
			cameras_failed INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS health_records (
			id BIGSERIAL PRIMARY KEY,
			camera_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			measured_fps DOUBLE PRECISION NOT NULL,
			expected_fps DOUBLE PRECISION NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			last_frame_at TIMESTAMPTZ,
			uptime_24h DOUBLE PRECISION NOT NULL,
			latency_ms DOUBLE PRECISION NOT NULL,
			view_similarity DOUBLE PRECISION,
			view_change BOOLEAN NOT NULL,
			brightness DOUBLE PRECISION NOT NULL,
			sharpness DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_camera_created ON health_records(camera_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			image_ref TEXT,
			mute_until TIMESTAMPTZ,
			acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
			ack_by TEXT,
			ack_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_camera_type ON alerts(camera_id, alert_type)`,
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			stream_url TEXT NOT NULL,
			hub_id TEXT,
			expected_fps DOUBLE PRECISION NOT NULL,
			baseline_ref TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (s *postgresStore) CreateRun(ctx context.Context, run model.InspectionRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, status, cameras_total, cameras_inspected, cameras_healthy, cameras_warning, cameras_failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.StartedAt.UTC(), nullTime(run.FinishedAt), string(run.Status),
		run.CamerasTotal, run.CamerasInspected, run.CamerasHealthy, run.CamerasWarning, run.CamerasFailed,
	)
	return err
}

func (s *postgresStore) UpdateRun(ctx context.Context, run model.InspectionRun) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = $1, status = $2, cameras_total = $3, cameras_inspected = $4, cameras_healthy = $5, cameras_warning = $6, cameras_failed = $7
		WHERE id = $8`,
		nullTime(run.FinishedAt), string(run.Status),
		run.CamerasTotal, run.CamerasInspected, run.CamerasHealthy, run.CamerasWarning, run.CamerasFailed,
		run.ID,
	)
	return err
}

func scanRunPG(row interface{ Scan(...any) error }) (model.InspectionRun, error) {
	var run model.InspectionRun
	var finished sql.NullTime
	var status string
	err := row.Scan(&run.ID, &run.StartedAt, &finished, &status,
		&run.CamerasTotal, &run.CamerasInspected, &run.CamerasHealthy, &run.CamerasWarning, &run.CamerasFailed)
	if err != nil {
		return run, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	run.Status = model.RunStatus(status)
	return run, nil
}

func (s *postgresStore) GetRun(ctx context.Context, id string) (model.InspectionRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, status, cameras_total, cameras_inspected, cameras_healthy, cameras_warning, cameras_failed
		FROM runs WHERE id = $1`, id)
	run, err := scanRunPG(row)
	if errors.Is(err, sql.ErrNoRows) {
		return run, ErrNotFound
	}
	return run, err
}

func (s *postgresStore) ListRuns(ctx context.Context, limit int) ([]model.InspectionRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, cameras_total, cameras_inspected, cameras_healthy, cameras_warning, cameras_failed
		FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.InspectionRun
	for rows.Next() {
		run, err := scanRunPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *postgresStore) AppendHealthRecord(ctx context.Context, rec model.HealthRecord) error {
	var lastFrame any
	if !rec.LastFrameAt.IsZero() {
		lastFrame = rec.LastFrameAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health_records (camera_id, run_id, status, measured_fps, expected_fps, width, height, last_frame_at, uptime_24h, latency_ms, view_similarity, view_change, brightness, sharpness, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.CameraID, rec.RunID, string(rec.Status), rec.MeasuredFPS, rec.ExpectedFPS,
		rec.Width, rec.Height, lastFrame, rec.Uptime24h, rec.LatencyMS,
		rec.ViewSimilarity, rec.ViewChangeDetected, rec.Brightness, rec.Sharpness,
		rec.CreatedAt.UTC(),
	)
	return err
}

func (s *postgresStore) ListHealthRecords(ctx context.Context, cameraID string, since time.Time) ([]model.HealthRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT camera_id, run_id, status, measured_fps, expected_fps, width, height, last_frame_at, uptime_24h, latency_ms, view_similarity, view_change, brightness, sharpness, created_at
		FROM health_records WHERE camera_id = $1 AND created_at >= $2 ORDER BY created_at`,
		cameraID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.HealthRecord
	for rows.Next() {
		var rec model.HealthRecord
		var status string
		var lastFrame sql.NullTime
		err := rows.Scan(&rec.CameraID, &rec.RunID, &status, &rec.MeasuredFPS, &rec.ExpectedFPS,
			&rec.Width, &rec.Height, &lastFrame, &rec.Uptime24h, &rec.LatencyMS,
			&rec.ViewSimilarity, &rec.ViewChangeDetected, &rec.Brightness, &rec.Sharpness, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		rec.Status = model.HealthStatus(status)
		if lastFrame.Valid {
			rec.LastFrameAt = lastFrame.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, camera_id, alert_type, severity, message, image_ref, mute_until, acknowledged, ack_by, ack_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		alert.ID, alert.CameraID, string(alert.Type), string(alert.Severity), alert.Message,
		alert.ImageRef, nullTime(alert.MuteUntil), alert.Acknowledged,
		alert.AckBy, nullTime(alert.AckAt), alert.CreatedAt.UTC(),
	)
	return err
}

func scanAlertPG(row interface{ Scan(...any) error }) (model.Alert, error) {
	var a model.Alert
	var typ, severity string
	var imageRef, ackBy sql.NullString
	var muteUntil, ackAt sql.NullTime
	err := row.Scan(&a.ID, &a.CameraID, &typ, &severity, &a.Message, &imageRef,
		&muteUntil, &a.Acknowledged, &ackBy, &ackAt, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	a.Type = model.AlertType(typ)
	a.Severity = model.Severity(severity)
	a.ImageRef = imageRef.String
	a.AckBy = ackBy.String
	if muteUntil.Valid {
		t := muteUntil.Time
		a.MuteUntil = &t
	}
	if ackAt.Valid {
		t := ackAt.Time
		a.AckAt = &t
	}
	return a, nil
}

const pgAlertCols = `id, camera_id, alert_type, severity, message, image_ref, mute_until, acknowledged, ack_by, ack_at, created_at`

func (s *postgresStore) GetAlert(ctx context.Context, id string) (model.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgAlertCols+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlertPG(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

func (s *postgresStore) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgAlertCols+` FROM alerts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		a, err := scanAlertPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *postgresStore) AcknowledgeAlert(ctx context.Context, id, actor string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = TRUE, ack_by = $1, ack_at = $2 WHERE id = $3`,
		actor, at.UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *postgresStore) MuteAlert(ctx context.Context, id string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET mute_until = $1 WHERE id = $2`, until.UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *postgresStore) ListActiveMutes(ctx context.Context, now time.Time) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgAlertCols+` FROM alerts WHERE mute_until IS NOT NULL AND mute_until > $1`,
		now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		a, err := scanAlertPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *postgresStore) ListCameras(ctx context.Context) ([]model.Camera, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, stream_url, hub_id, expected_fps, baseline_ref FROM cameras ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Camera
	for rows.Next() {
		var cam model.Camera
		var hub, baseline sql.NullString
		if err := rows.Scan(&cam.ID, &cam.Name, &cam.StreamURL, &hub, &cam.ExpectedFPS, &baseline); err != nil {
			return nil, err
		}
		cam.HubID = hub.String
		cam.BaselineRef = baseline.String
		out = append(out, cam)
	}
	return out, rows.Err()
}

func (s *postgresStore) UpsertCamera(ctx context.Context, cam model.Camera) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cameras (id, name, stream_url, hub_id, expected_fps, baseline_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, stream_url = EXCLUDED.stream_url, hub_id = EXCLUDED.hub_id, expected_fps = EXCLUDED.expected_fps`,
		cam.ID, cam.Name, cam.StreamURL, cam.HubID, cam.ExpectedFPS, cam.BaselineRef)
	return err
}

func (s *postgresStore) UpdateCameraBaseline(ctx context.Context, cameraID, ref string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cameras SET baseline_ref = $1 WHERE id = $2`, ref, cameraID)
	return err
}

func (s *postgresStore) Prune(ctx context.Context, before time.Time) error {
	cutoff := before.UTC()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM health_records WHERE created_at < $1`, cutoff); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM alerts WHERE created_at < $1 AND (mute_until IS NULL OR mute_until < $1)`, cutoff)
	return err
}
