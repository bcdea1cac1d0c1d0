// Package sched drives the periodic inspection cycle. A run freezes the
// fleet and the config snapshot at its start, fans the cameras out over a
// bounded worker pool, and records one health record per camera. At most
// one run is in flight at a time.
package sched

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"camguard/internal/baseline"
	"camguard/internal/config"
	"camguard/internal/engine"
	"camguard/internal/fleet"
	"camguard/internal/health"
	"camguard/internal/model"
	"camguard/internal/probe"
	"camguard/internal/status"
	"camguard/internal/storage"
	"camguard/internal/vision"
)

var ErrRunInFlight = errors.New("inspection run already in progress")

type Scheduler struct {
	logger    *slog.Logger
	manager   *config.Manager
	fleet     fleet.Provider
	prober    probe.Prober
	baselines baseline.Store
	store     storage.Store
	status    *status.Store
	engine    *engine.Engine

	mu      sync.Mutex
	running bool
	current model.InspectionRun
	runCtx  context.Context
}

func New(manager *config.Manager, logger *slog.Logger, provider fleet.Provider, prober probe.Prober, baselines baseline.Store, store storage.Store, statusStore *status.Store, eng *engine.Engine) *Scheduler {
	return &Scheduler{
		logger:    logger,
		manager:   manager,
		fleet:     provider,
		prober:    prober,
		baselines: baselines,
		store:     store,
		status:    statusStore,
		engine:    eng,
		runCtx:    context.Background(),
	}
}

// Start launches the inspection loop. The first run begins immediately;
// each later run starts one interval after the previous run started,
// except that an overrunning run pushes the next cycle back until it
// finishes.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()
	go func() {
		for {
			interval := s.manager.Get().Inspection.Interval
			started := time.Now()
			if run, err := s.RunOnce(ctx); err != nil {
				if !errors.Is(err, ErrRunInFlight) && s.logger != nil {
					s.logger.Error("inspection run failed", "err", err)
				}
			} else if elapsed := time.Since(started); elapsed > interval && s.logger != nil {
				s.logger.Warn("inspection run overran the interval",
					"run_id", run.ID,
					"elapsed", elapsed.String(),
					"interval", interval.String(),
				)
			}
			select {
			case <-time.After(interval - time.Since(started)):
			case <-ctx.Done():
				return
			}
		}
	}()
}

// TriggerRun starts a manual run in the background. It fails with
// ErrRunInFlight instead of queueing when a run is already active.
func (s *Scheduler) TriggerRun() (model.InspectionRun, error) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	run, err := s.begin(ctx)
	if err != nil {
		return model.InspectionRun{}, err
	}
	go func() {
		if _, err := s.execute(ctx, run); err != nil && s.logger != nil {
			s.logger.Error("manual inspection run failed", "run_id", run.ID, "err", err)
		}
	}()
	return run, nil
}

// RunOnce executes a full inspection cycle synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) (model.InspectionRun, error) {
	run, err := s.begin(ctx)
	if err != nil {
		return model.InspectionRun{}, err
	}
	return s.execute(ctx, run)
}

// CurrentRun reports the run in flight, if any.
func (s *Scheduler) CurrentRun() (model.InspectionRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.running
}

// begin reserves the single in-flight slot and persists the run as
// pending so the row is observable before camera dispatch starts.
func (s *Scheduler) begin(ctx context.Context) (model.InspectionRun, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return model.InspectionRun{}, ErrRunInFlight
	}
	run := model.InspectionRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    model.RunPending,
	}
	s.running = true
	s.current = run
	s.mu.Unlock()

	if err := s.store.CreateRun(ctx, run); err != nil && s.logger != nil {
		s.logger.Error("persist run failed", "run_id", run.ID, "err", err)
	}
	return run, nil
}

func (s *Scheduler) finish(run model.InspectionRun) {
	s.mu.Lock()
	s.running = false
	s.current = run
	s.mu.Unlock()
}

func (s *Scheduler) execute(ctx context.Context, run model.InspectionRun) (model.InspectionRun, error) {
	cfg := s.manager.Get()
	if s.logger != nil {
		s.logger.Info("inspection run started", "run_id", run.ID)
	}

	cameras, err := s.fleet.List(ctx)
	if err != nil {
		now := time.Now().UTC()
		run.Status = model.RunFailed
		run.FinishedAt = &now
		if uerr := s.store.UpdateRun(ctx, run); uerr != nil && s.logger != nil {
			s.logger.Error("persist run failed", "run_id", run.ID, "err", uerr)
		}
		s.finish(run)
		return run, err
	}

	// The run turns running once the fleet is snapshotted and camera
	// dispatch begins.
	run.Status = model.RunRunning
	run.CamerasTotal = len(cameras)
	s.mu.Lock()
	s.current = run
	s.mu.Unlock()
	if err := s.store.UpdateRun(ctx, run); err != nil && s.logger != nil {
		s.logger.Error("persist run failed", "run_id", run.ID, "err", err)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, cfg.Inspection.PoolSize)
	)
	for _, cam := range cameras {
		wg.Add(1)
		sem <- struct{}{}
		go func(cam model.Camera) {
			defer wg.Done()
			defer func() { <-sem }()
			rec := s.inspect(ctx, cfg, run.ID, cam)
			mu.Lock()
			run.CamerasInspected++
			switch health.Classify(rec) {
			case health.BucketHealthy:
				run.CamerasHealthy++
			case health.BucketWarning:
				run.CamerasWarning++
			default:
				run.CamerasFailed++
			}
			mu.Unlock()
		}(cam)
	}
	wg.Wait()

	// A cancelled context leaves the run as the restart found it:
	// running, to be judged by whoever reads it next.
	if ctx.Err() != nil {
		return run, ctx.Err()
	}

	now := time.Now().UTC()
	run.Status = model.RunCompleted
	run.FinishedAt = &now
	if err := s.store.UpdateRun(ctx, run); err != nil && s.logger != nil {
		s.logger.Error("persist run failed", "run_id", run.ID, "err", err)
	}
	s.finish(run)
	if s.logger != nil {
		s.logger.Info("inspection run completed",
			"run_id", run.ID,
			"total", run.CamerasTotal,
			"healthy", run.CamerasHealthy,
			"warning", run.CamerasWarning,
			"failed", run.CamerasFailed,
		)
	}

	if cfg.Inspection.RetentionWindow > 0 {
		if err := s.store.Prune(ctx, now.Add(-cfg.Inspection.RetentionWindow)); err != nil && s.logger != nil {
			s.logger.Error("retention prune failed", "err", err)
		}
	}
	return run, nil
}

func (s *Scheduler) inspect(ctx context.Context, cfg *config.Config, runID string, cam model.Camera) model.HealthRecord {
	now := time.Now().UTC()
	res := s.prober.Probe(ctx, cam)

	var view *vision.Result
	if res.LastFrame != nil && s.baselines != nil && s.baselines.Has(cam.ID) {
		if base, err := s.baselines.Get(cam.ID); err == nil {
			det := vision.NewDetector(
				cfg.Inspection.ViewChangeThreshold,
				cfg.Inspection.KeypointMatchCutoff,
				cfg.Inspection.MinBaselineKeypoints,
			)
			r := det.Compare(base, res.LastFrame)
			view = &r
		} else if s.logger != nil {
			s.logger.Warn("baseline load failed", "camera_id", cam.ID, "err", err)
		}
	}

	history, err := s.store.ListHealthRecords(ctx, cam.ID, now.Add(-24*time.Hour))
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("health history load failed", "camera_id", cam.ID, "err", err)
		}
		history = nil
	}

	rec := health.Score(health.Inputs{
		Camera:           cam,
		RunID:            runID,
		Probe:            res,
		View:             view,
		StickyViewChange: s.status.ViewChanged(cam.ID),
		LastFrameAt:      s.status.LastFrameAt(cam.ID),
		Now:              now,
	}, cfg.Inspection)
	// Uptime counts the inspection that just ran alongside the 24h history,
	// so a brand-new camera's first record reflects this probe's outcome.
	rec.Uptime24h = health.Uptime24h(append(history, rec))

	if err := s.store.AppendHealthRecord(ctx, rec); err != nil && s.logger != nil {
		s.logger.Error("persist health record failed", "camera_id", cam.ID, "err", err)
	}
	s.status.Update(cam, rec)

	var prev *model.HealthRecord
	if len(history) > 0 {
		prev = &history[len(history)-1]
	}
	if s.engine != nil {
		s.engine.Evaluate(ctx, cfg, cam, rec, prev)
	}
	return rec
}

// UpdateBaseline captures a fresh frame, stores it as the camera's new
// reference view and clears any sticky view-change flag.
func (s *Scheduler) UpdateBaseline(ctx context.Context, cameraID string) (model.Camera, error) {
	cam, err := s.findCamera(ctx, cameraID)
	if err != nil {
		return model.Camera{}, err
	}
	res := s.prober.Probe(ctx, cam)
	if res.Unreachable || res.LastFrame == nil {
		return model.Camera{}, errors.New("camera unreachable, baseline not updated")
	}
	ref, err := s.baselines.Put(cam.ID, res.LastFrame)
	if err != nil {
		return model.Camera{}, err
	}
	cam.BaselineRef = ref
	if err := s.store.UpdateCameraBaseline(ctx, cam.ID, ref); err != nil && !errors.Is(err, storage.ErrNotFound) {
		if s.logger != nil {
			s.logger.Error("persist baseline ref failed", "camera_id", cam.ID, "err", err)
		}
	}
	s.status.ClearViewChange(cam.ID)
	if s.logger != nil {
		s.logger.Info("baseline updated", "camera_id", cam.ID, "ref", ref)
	}
	return cam, nil
}

// Cameras lists the fleet as the scheduler would inspect it, sorted by id.
func (s *Scheduler) Cameras(ctx context.Context) ([]model.Camera, error) {
	cams, err := s.fleet.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(cams, func(i, j int) bool { return cams[i].ID < cams[j].ID })
	return cams, nil
}

func (s *Scheduler) findCamera(ctx context.Context, id string) (model.Camera, error) {
	cams, err := s.fleet.List(ctx)
	if err != nil {
		return model.Camera{}, err
	}
	for _, cam := range cams {
		if cam.ID == id {
			return cam, nil
		}
	}
	return model.Camera{}, storage.ErrNotFound
}
