// Package fleet reads the camera list from the fleet-management
// collaborator. The engine never edits cameras beyond baseline references.
package fleet

import (
	"context"
	"fmt"
	"strings"

	"camguard/internal/config"
	"camguard/internal/model"
	"camguard/internal/storage"
)

type Provider interface {
	List(ctx context.Context) ([]model.Camera, error)
}

// StaticProvider serves the fleet declared in the config file; suitable for
// small edge deployments without a fleet service.
type StaticProvider struct {
	cameras []model.Camera
}

func NewStaticProvider(cfg config.FleetConfig) *StaticProvider {
	cams := make([]model.Camera, 0, len(cfg.Cameras))
	for _, c := range cfg.Cameras {
		cams = append(cams, model.Camera{
			ID:          c.ID,
			Name:        c.Name,
			StreamURL:   c.StreamURL,
			HubID:       c.HubID,
			ExpectedFPS: c.ExpectedFPS,
		})
	}
	return &StaticProvider{cameras: cams}
}

func (p *StaticProvider) List(ctx context.Context) ([]model.Camera, error) {
	out := make([]model.Camera, len(p.cameras))
	copy(out, p.cameras)
	return out, nil
}

// SQLProvider reads the fleet from the cameras table maintained by the
// fleet-management collaborator.
type SQLProvider struct {
	store storage.Store
}

func NewSQLProvider(store storage.Store) *SQLProvider {
	return &SQLProvider{store: store}
}

func (p *SQLProvider) List(ctx context.Context) ([]model.Camera, error) {
	cams, err := p.store.ListCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	return cams, nil
}

func NewProvider(cfg *config.Config, store storage.Store) (Provider, error) {
	switch strings.ToLower(cfg.Fleet.Source) {
	case "static", "":
		return NewStaticProvider(cfg.Fleet), nil
	case "sql":
		return NewSQLProvider(store), nil
	default:
		return nil, fmt.Errorf("unsupported fleet source: %s", cfg.Fleet.Source)
	}
}
