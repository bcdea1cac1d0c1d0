package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"camguard/internal/config"
	"camguard/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator: runs, append-only health records,
// alerts and the camera baseline references.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	CreateRun(ctx context.Context, run model.InspectionRun) error
	UpdateRun(ctx context.Context, run model.InspectionRun) error
	GetRun(ctx context.Context, id string) (model.InspectionRun, error)
	ListRuns(ctx context.Context, limit int) ([]model.InspectionRun, error)

	AppendHealthRecord(ctx context.Context, rec model.HealthRecord) error
	ListHealthRecords(ctx context.Context, cameraID string, since time.Time) ([]model.HealthRecord, error)

	SaveAlert(ctx context.Context, alert model.Alert) error
	GetAlert(ctx context.Context, id string) (model.Alert, error)
	ListAlerts(ctx context.Context, limit int) ([]model.Alert, error)
	AcknowledgeAlert(ctx context.Context, id, actor string, at time.Time) error
	MuteAlert(ctx context.Context, id string, until time.Time) error
	ListActiveMutes(ctx context.Context, now time.Time) ([]model.Alert, error)

	ListCameras(ctx context.Context) ([]model.Camera, error)
	UpsertCamera(ctx context.Context, cam model.Camera) error
	UpdateCameraBaseline(ctx context.Context, cameraID, ref string) error

	Prune(ctx context.Context, before time.Time) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	if t.IsZero() {
		return nil
	}
	return &t
}
