package proctor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSessionActive is returned when the learner already runs an attempt.
var ErrSessionActive = errors.New("learner already has an active test session")

// lockMargin is added to the test duration for the cross-instance lock TTL.
const lockMargin = 5 * time.Minute

// SessionLock serialises attempts of one learner across server instances.
type SessionLock interface {
	Acquire(ctx context.Context, studentID, sessionID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, studentID, sessionID string) error
}

// Registry enforces one active session per learner.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Controller
	lock     SessionLock
	log      zerolog.Logger
}

// NewRegistry returns a registry. lock may be nil for a single instance.
func NewRegistry(lock SessionLock, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Controller),
		lock:     lock,
		log:      log.With().Str("component", "session_registry").Logger(),
	}
}

// Register claims the learner slot for c. The slot is released when c
// tears down. A lock backend error fails open.
func (r *Registry) Register(ctx context.Context, c *Controller, duration time.Duration) error {
	r.mu.Lock()
	if cur, ok := r.sessions[c.studentID]; ok && cur != c {
		select {
		case <-cur.Done():
		default:
			r.mu.Unlock()
			return ErrSessionActive
		}
	}

	if r.lock != nil {
		ok, err := r.lock.Acquire(ctx, c.studentID, c.id, duration+lockMargin)
		if err != nil {
			r.log.Warn().Err(err).Str("student_id", c.studentID).Msg("Session lock unavailable, continuing without it")
		} else if !ok {
			r.mu.Unlock()
			return ErrSessionActive
		}
	}
	r.sessions[c.studentID] = c
	r.mu.Unlock()

	c.OnClose(func(Outcome) { r.release(c) })
	return nil
}

func (r *Registry) release(c *Controller) {
	r.mu.Lock()
	if r.sessions[c.studentID] == c {
		delete(r.sessions, c.studentID)
	}
	r.mu.Unlock()

	if r.lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.lock.Release(ctx, c.studentID, c.id); err != nil {
		r.log.Warn().Err(err).Str("student_id", c.studentID).Msg("Session lock release failed")
	}
}

// Get returns the learner's live session.
func (r *Registry) Get(studentID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[studentID]
	return c, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown closes every live session and waits for teardown or ctx.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	live := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		live = append(live, c)
	}
	r.mu.Unlock()

	for _, c := range live {
		if err := c.Close(); err != nil {
			r.log.Warn().Err(err).Str("student_id", c.studentID).Msg("Close on shutdown failed")
		}
	}

	done := make(chan struct{})
	go func() {
		for _, c := range live {
			c.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		r.log.Info().Int("sessions", len(live)).Msg("All sessions closed")
	case <-ctx.Done():
		r.log.Warn().Msg("Shutdown deadline hit with sessions still closing")
	}
}
