package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaspardpetit/detpay/internal/bridge"
	"github.com/gaspardpetit/detpay/internal/notify"
	"github.com/gaspardpetit/detpay/internal/render"
	"github.com/gaspardpetit/detpay/internal/surface"
)

// session is one rendered surface and the channels that serve it.
type session struct {
	surface surface.Surface
	page    *render.Page
	bridge  *bridge.Hub // nil for surfaces without an embedded frame
	events  *notify.Hub
	seen    atomic.Int64
}

func (s *session) touch(now time.Time) { s.seen.Store(now.UnixNano()) }

func (s *session) close() {
	s.surface.Detach()
	if s.bridge != nil {
		s.bridge.Close()
	}
	s.events.Close()
}

// Sessions tracks live surfaces by id. A surface is also reachable by its
// session nonce once its configuration resolved.
type Sessions struct {
	mu   sync.RWMutex
	byID map[string]*session
	ttl  time.Duration
}

// NewSessions returns an empty registry expiring idle sessions after ttl.
func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{byID: map[string]*session{}, ttl: ttl}
}

func (r *Sessions) add(s *session) {
	s.touch(time.Now())
	r.mu.Lock()
	r.byID[s.surface.ID()] = s
	r.mu.Unlock()
}

// lookup finds a session by surface id or nonce.
func (r *Sessions) lookup(key string) (*session, bool) {
	if key == "" {
		return nil, false
	}
	r.mu.RLock()
	s, ok := r.byID[key]
	if !ok {
		for _, c := range r.byID {
			if c.surface.Nonce() == key {
				s, ok = c, true
				break
			}
		}
	}
	r.mu.RUnlock()
	if ok {
		s.touch(time.Now())
	}
	return s, ok
}

// Remove detaches and forgets the session with the given id.
func (r *Sessions) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if ok {
		s.close()
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Sweep detaches sessions idle since before now-ttl and returns how many.
func (r *Sessions) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-r.ttl).UnixNano()
	var expired []*session
	r.mu.Lock()
	for id, s := range r.byID {
		if s.seen.Load() < cutoff {
			expired = append(expired, s)
			delete(r.byID, id)
		}
	}
	r.mu.Unlock()
	for _, s := range expired {
		s.close()
	}
	return len(expired)
}

// CloseAll detaches every session.
func (r *Sessions) CloseAll() {
	r.mu.Lock()
	all := r.byID
	r.byID = map[string]*session{}
	r.mu.Unlock()
	for _, s := range all {
		s.close()
	}
}
