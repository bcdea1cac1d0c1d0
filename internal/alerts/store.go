package alerts

import (
	"sync"
	"time"

	"camguard/internal/model"
)

// Store is a bounded in-memory ring of recent alerts for the dashboard. The
// SQL store is the durable record; this one answers reads without a query.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
}

// Apply mutates the ring copy of an alert in place, used to mirror
// acknowledge and mute updates made against the durable store.
func (s *Store) Apply(id string, fn func(*model.Alert)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID == id {
			fn(&s.buf[i])
			return true
		}
	}
	return false
}

func (s *Store) Get(id string) (model.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.buf {
		if s.buf[i].ID == id {
			return s.buf[i], true
		}
	}
	return model.Alert{}, false
}

func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Alert, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if !a.CreatedAt.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
