package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry owns one Session per patient. Idle sessions expire after ttl; expiry is a
// deadline compared against the clock, pushed forward on every use.
type Registry struct {
	deps   Deps
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		deps:     deps,
		ttl:      ttl,
		now:      time.Now,
		logger:   deps.Logger.With(zap.String("component", "registry")),
		sessions: make(map[string]*Session),
	}
}

// Session returns the patient's session, creating it on first use.
func (r *Registry) Session(patientID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[patientID]
	if !ok {
		s = NewSession(patientID, r.deps)
		r.sessions[patientID] = s
		r.logger.Debug("session created", zap.String("patient_id", patientID))
	}
	s.deadline = r.now().Add(r.ttl)
	return s
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops expired sessions. A session with a call in flight is kept until the
// call settles.
func (r *Registry) Sweep() int {
	now := r.now()
	var expired []*Session

	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Before(s.deadline) || s.busy() {
			continue
		}
		delete(r.sessions, id)
		expired = append(expired, s)
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.close()
	}
	if len(expired) > 0 {
		r.logger.Info("expired idle sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
