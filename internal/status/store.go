package status

import (
	"sync"
	"time"

	"camguard/internal/model"
)

// CameraStatus is the live dashboard view of one camera. Absence of an entry
// means "no health data yet", which the dashboard shows distinctly from
// healthy and from in-progress.
type CameraStatus struct {
	Camera    model.Camera       `json:"camera"`
	Record    model.HealthRecord `json:"record"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store keeps the latest health record per camera plus the cross-run state
// the scorer needs: the last successful frame time and the sticky
// view-change flag (cleared only by a baseline update).
type Store struct {
	mu          sync.RWMutex
	byCamera    map[string]CameraStatus
	lastFrame   map[string]time.Time
	viewChanged map[string]bool
}

func NewStore() *Store {
	return &Store{
		byCamera:    make(map[string]CameraStatus),
		lastFrame:   make(map[string]time.Time),
		viewChanged: make(map[string]bool),
	}
}

func (s *Store) Update(cam model.Camera, rec model.HealthRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCamera[cam.ID] = CameraStatus{Camera: cam, Record: rec, UpdatedAt: time.Now().UTC()}
	if !rec.LastFrameAt.IsZero() && rec.LastFrameAt.After(s.lastFrame[cam.ID]) {
		s.lastFrame[cam.ID] = rec.LastFrameAt
	}
	if rec.ViewChangeDetected {
		s.viewChanged[cam.ID] = true
	}
}

func (s *Store) Get(cameraID string) (CameraStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byCamera[cameraID]
	return st, ok
}

func (s *Store) GetAll() []CameraStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CameraStatus, 0, len(s.byCamera))
	for _, st := range s.byCamera {
		out = append(out, st)
	}
	return out
}

func (s *Store) LastFrameAt(cameraID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFrame[cameraID]
}

func (s *Store) ViewChanged(cameraID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewChanged[cameraID]
}

// ClearViewChange is invoked by the explicit baseline-update action; nothing
// else resets the flag.
func (s *Store) ClearViewChange(cameraID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.viewChanged, cameraID)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCamera = make(map[string]CameraStatus)
	s.lastFrame = make(map[string]time.Time)
	s.viewChanged = make(map[string]bool)
}
