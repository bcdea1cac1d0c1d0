// Package api exposes the inspection state over HTTP: fleet status, run
// history, alerts and the operator actions (trigger, acknowledge, mute,
// re-baseline), plus a websocket feed for the dashboard.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"camguard/internal/alerts"
	"camguard/internal/config"
	"camguard/internal/health"
	"camguard/internal/model"
	"camguard/internal/sched"
	"camguard/internal/status"
	"camguard/internal/storage"
)

const snapshotInterval = 5 * time.Second

// Inspector is the scheduler surface the API needs.
type Inspector interface {
	TriggerRun() (model.InspectionRun, error)
	CurrentRun() (model.InspectionRun, bool)
	Cameras(ctx context.Context) ([]model.Camera, error)
	UpdateBaseline(ctx context.Context, cameraID string) (model.Camera, error)
}

// AlertControl is the alert-engine surface the API needs.
type AlertControl interface {
	Acknowledge(ctx context.Context, id, actor string) (model.Alert, error)
	Mute(ctx context.Context, id string, d time.Duration) (model.Alert, error)
}

type Server struct {
	cfg       *config.Manager
	status    *status.Store
	alerts    *alerts.Store
	store     storage.Store
	inspector Inspector
	control   AlertControl
	hub       *Hub
	logger    *slog.Logger
	version   string
}

type statusResponse struct {
	Status     string                `json:"status"`
	Time       string                `json:"time"`
	Version    string                `json:"version"`
	Run        *model.InspectionRun  `json:"run,omitempty"`
	Running    bool                  `json:"running"`
	Summary    summaryCounts         `json:"summary"`
	Cameras    []status.CameraStatus `json:"cameras"`
	Inspection inspectionStatus      `json:"inspection"`
}

type inspectionStatus struct {
	Interval     string `json:"interval"`
	ProbeTimeout string `json:"probe_timeout"`
	PoolSize     int    `json:"pool_size"`
	FleetSource  string `json:"fleet_source"`
}

type summaryCounts struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
	Warning int `json:"warning"`
	Failed  int `json:"failed"`
}

func Start(ctx context.Context, cfg *config.Manager, statusStore *status.Store, alertsStore *alerts.Store, store storage.Store, inspector Inspector, control AlertControl, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:       cfg,
		status:    statusStore,
		alerts:    alertsStore,
		store:     store,
		inspector: inspector,
		control:   control,
		hub:       NewHub(logger),
		logger:    logger,
		version:   version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/cameras", server.handleCameras)
	mux.HandleFunc("/cameras/", server.handleCameraAction)
	mux.HandleFunc("/runs", server.handleRuns)
	mux.HandleFunc("/runs/", server.handleRun)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/alerts/", server.handleAlertAction)
	mux.HandleFunc("/inspect", server.handleInspect)
	mux.HandleFunc("/ws", server.hub.handleWS)

	go server.hub.Run(ctx.Done())
	go server.pushSnapshots(ctx)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) pushSnapshots(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.hub.Broadcast(s.snapshot())
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) snapshot() statusResponse {
	cameras := s.status.GetAll()
	summary := summaryCounts{Total: len(cameras)}
	for _, c := range cameras {
		switch health.Classify(c.Record) {
		case health.BucketHealthy:
			summary.Healthy++
		case health.BucketWarning:
			summary.Warning++
		default:
			summary.Failed++
		}
	}
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
		Summary: summary,
		Cameras: cameras,
	}
	if s.cfg != nil {
		cfg := s.cfg.Get()
		resp.Inspection = inspectionStatus{
			Interval:     cfg.Inspection.Interval.String(),
			ProbeTimeout: cfg.Inspection.ProbeTimeout.String(),
			PoolSize:     cfg.Inspection.PoolSize,
			FleetSource:  cfg.Fleet.Source,
		}
	}
	if s.inspector != nil {
		if run, running := s.inspector.CurrentRun(); run.ID != "" {
			r := run
			resp.Run = &r
			resp.Running = running
		}
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cams, err := s.inspector.Cameras(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	type cameraView struct {
		model.Camera
		Status      model.HealthStatus  `json:"status"`
		LastRecord  *model.HealthRecord `json:"last_record,omitempty"`
		ViewChanged bool                `json:"view_changed"`
	}
	out := make([]cameraView, 0, len(cams))
	for _, cam := range cams {
		v := cameraView{Camera: cam, Status: model.StatusUnknown}
		if st, ok := s.status.Get(cam.ID); ok {
			rec := st.Record
			v.Status = rec.Status
			v.LastRecord = &rec
			v.ViewChanged = s.status.ViewChanged(cam.ID)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cameras": out,
		"count":   len(out),
	})
}

// handleCameraAction routes POST /cameras/{id}/baseline.
func (s *Server) handleCameraAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/cameras/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || id == "" || action != "baseline" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cam, err := s.inspector.UpdateBaseline(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"camera": cam,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.Alert
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// handleAlertAction routes POST /alerts/{id}/ack and /alerts/{id}/mute.
func (s *Server) handleAlertAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/alerts/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch action {
	case "ack":
		var req struct {
			By string `json:"by"`
		}
		_ = json.Unmarshal(body, &req)
		if req.By == "" {
			req.By = "operator"
		}
		alert, err := s.control.Acknowledge(r.Context(), id, req.By)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, alert)
	case "mute":
		var req struct {
			Duration string `json:"duration"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Duration == "" {
			writeError(w, http.StatusBadRequest, errors.New("duration required"))
			return
		}
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid duration"))
			return
		}
		alert, err := s.control.Mute(r.Context(), id, d)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, alert)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	run, err := s.inspector.TriggerRun()
	if err != nil {
		if errors.Is(err, sched.ErrRunInFlight) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
