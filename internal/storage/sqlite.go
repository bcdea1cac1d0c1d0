package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"camguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:camguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			cameras_total INTEGER NOT NULL,
			cameras_inspected INTEGER NOT NULL,
			cameras_healthy INTEGER NOT NULL,
			cameras_warning INTEGER NOT NULL,
			cameras_failed INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS health_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			measured_fps REAL NOT NULL,
			expected_fps REAL NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			last_frame_at TEXT,
			uptime_24h REAL NOT NULL,
			latency_ms REAL NOT NULL,
			view_similarity REAL,
			view_change INTEGER NOT NULL,
			brightness REAL NOT NULL,
			sharpness REAL NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_camera_created ON health_records(camera_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			image_ref TEXT,
			mute_until TEXT,
			acknowledged INTEGER NOT NULL DEFAULT 0,
			ack_by TEXT,
			ack_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_camera_type ON alerts(camera_id, alert_type)`,
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			stream_url TEXT NOT NULL,
			hub_id TEXT,
			expected_fps REAL NOT NULL,
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

func (s *sqliteStore) CreateRun(ctx context.Context, run model.InspectionRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, status, cameras_total, cameras_inspected, cameras_healthy, cameras_warning, cameras_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, fmtTime(run.StartedAt), fmtTimePtr(run.FinishedAt), string(run.Status),
		run.CamerasTotal, run.CamerasInspected, run.CamerasHealthy, run.CamerasWarning, run.CamerasFailed,
	)
	return err
}

func (s *sqliteStore) UpdateRun(ctx context.Context, run model.InspectionRun) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, cameras_total = ?, cameras_inspected = ?, cameras_healthy = ?, cameras_warning = ?, cameras_failed = ?
		WHERE id = ?`,
		fmtTimePtr(run.FinishedAt), string(run.Status),
		run.CamerasTotal, run.CamerasInspected, run.CamerasHealthy, run.CamerasWarning, run.CamerasFailed,
		run.ID,
	)
	return err
}

func scanRun(row interface{ Scan(...any) error }) (model.InspectionRun, error) {
	var run model.InspectionRun
	var started string
	var finished sql.NullString
	var status string
	err := row.Scan(&run.ID, &started, &finished, &status,
		&run.CamerasTotal, &run.CamerasInspected, &run.CamerasHealthy, &run.CamerasWarning, &run.CamerasFailed)
	if err != nil {
		return run, err
	}
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTimePtr(finished)
	run.Status = model.RunStatus(status)
	return run, nil
}

func (s *sqliteStore) GetRun(ctx context.Context, id string) (model.InspectionRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, status, cameras_total, cameras_inspected, cameras_healthy, cameras_warning, cameras_failed
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return run, ErrNotFound
	}
	return run, err
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]model.InspectionRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, cameras_total, cameras_inspected, cameras_healthy, cameras_warning, cameras_failed
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.InspectionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendHealthRecord(ctx context.Context, rec model.HealthRecord) error {
	var lastFrame any
	if !rec.LastFrameAt.IsZero() {
		lastFrame = fmtTime(rec.LastFrameAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health_records (camera_id, run_id, status, measured_fps, expected_fps, width, height, last_frame_at, uptime_24h, latency_ms, view_similarity, view_change, brightness, sharpness, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CameraID, rec.RunID, string(rec.Status), rec.MeasuredFPS, rec.ExpectedFPS,
		rec.Width, rec.Height, lastFrame, rec.Uptime24h, rec.LatencyMS,
		rec.ViewSimilarity, boolToInt(rec.ViewChangeDetected), rec.Brightness, rec.Sharpness,
		fmtTime(rec.CreatedAt),
	)
	return err
}

func (s *sqliteStore) ListHealthRecords(ctx context.Context, cameraID string, since time.Time) ([]model.HealthRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT camera_id, run_id, status, measured_fps, expected_fps, width, height, last_frame_at, uptime_24h, latency_ms, view_similarity, view_change, brightness, sharpness, created_at
		FROM health_records WHERE camera_id = ? AND created_at >= ? ORDER BY created_at`,
		cameraID, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.HealthRecord
	for rows.Next() {
		var rec model.HealthRecord
		var status string
		var lastFrame, created sql.NullString
		var viewChange int
		err := rows.Scan(&rec.CameraID, &rec.RunID, &status, &rec.MeasuredFPS, &rec.ExpectedFPS,
			&rec.Width, &rec.Height, &lastFrame, &rec.Uptime24h, &rec.LatencyMS,
			&rec.ViewSimilarity, &viewChange, &rec.Brightness, &rec.Sharpness, &created)
		if err != nil {
			return nil, err
		}
		rec.Status = model.HealthStatus(status)
		if lastFrame.Valid {
			rec.LastFrameAt = parseTime(lastFrame.String)
		}
		if created.Valid {
			rec.CreatedAt = parseTime(created.String)
		}
		rec.ViewChangeDetected = viewChange != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, camera_id, alert_type, severity, message, image_ref, mute_until, acknowledged, ack_by, ack_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.CameraID, string(alert.Type), string(alert.Severity), alert.Message,
		alert.ImageRef, fmtTimePtr(alert.MuteUntil), boolToInt(alert.Acknowledged),
		alert.AckBy, fmtTimePtr(alert.AckAt), fmtTime(alert.CreatedAt),
	)
	return err
}

func scanAlert(row interface{ Scan(...any) error }) (model.Alert, error) {
	var a model.Alert
	var typ, severity string
	var imageRef, ackBy sql.NullString
	var muteUntil, ackAt, created sql.NullString
	var acked int
	err := row.Scan(&a.ID, &a.CameraID, &typ, &severity, &a.Message, &imageRef,
		&muteUntil, &acked, &ackBy, &ackAt, &created)
	if err != nil {
		return a, err
	}
	a.Type = model.AlertType(typ)
	a.Severity = model.Severity(severity)
	a.ImageRef = imageRef.String
	a.MuteUntil = parseTimePtr(muteUntil)
	a.Acknowledged = acked != 0
	a.AckBy = ackBy.String
	a.AckAt = parseTimePtr(ackAt)
	if created.Valid {
		a.CreatedAt = parseTime(created.String)
	}
	return a, nil
}

const sqliteAlertCols = `id, camera_id, alert_type, severity, message, image_ref, mute_until, acknowledged, ack_by, ack_at, created_at`

func (s *sqliteStore) GetAlert(ctx context.Context, id string) (model.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteAlertCols+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

func (s *sqliteStore) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteAlertCols+` FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AcknowledgeAlert(ctx context.Context, id, actor string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = 1, ack_by = ?, ack_at = ? WHERE id = ?`,
		actor, fmtTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) MuteAlert(ctx context.Context, id string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET mute_until = ? WHERE id = ?`, fmtTime(until), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) ListActiveMutes(ctx context.Context, now time.Time) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteAlertCols+` FROM alerts WHERE mute_until IS NOT NULL AND mute_until > ?`,
		fmtTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListCameras(ctx context.Context) ([]model.Camera, error) {
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

func (s *sqliteStore) UpsertCamera(ctx context.Context, cam model.Camera) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cameras (id, name, stream_url, hub_id, expected_fps, baseline_ref)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, stream_url = excluded.stream_url, hub_id = excluded.hub_id, expected_fps = excluded.expected_fps`,
		cam.ID, cam.Name, cam.StreamURL, cam.HubID, cam.ExpectedFPS, cam.BaselineRef)
	return err
}

func (s *sqliteStore) UpdateCameraBaseline(ctx context.Context, cameraID, ref string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cameras SET baseline_ref = ? WHERE id = ?`, ref, cameraID)
	return err
}

func (s *sqliteStore) Prune(ctx context.Context, before time.Time) error {
	cutoff := fmtTime(before)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM health_records WHERE created_at < ?`, cutoff); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM alerts WHERE created_at < ? AND (mute_until IS NULL OR mute_until < ?)`, cutoff, cutoff)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
