// Package registry owns every live session and the inverse topic index.
// Both live under a single lock so that "subscribe + index update" and
// "remove + cascade" are applied as one indivisible unit.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleettrace/hub/internal/roles"
)

// Session is one live connected client context. It is owned exclusively by
// the Registry; every other component refers to it by id.
type Session struct {
	id          string
	userID      string
	role        roles.Role
	permissions []string
	topics      map[string]struct{}
	createdAt   time.Time
	lastActive  time.Time
	active      bool
}

// View is a stable copy of a session handed to observers.
type View struct {
	ID          string
	UserID      string
	Role        roles.Role
	Permissions []string
	Topics      []string
	CreatedAt   time.Time
	LastActive  time.Time
	Active      bool
}

// TopicSet rebuilds the subscribed-topic set for permission checks.
func (v View) TopicSet() map[string]struct{} {
	set := make(map[string]struct{}, len(v.Topics))
	for _, topic := range v.Topics {
		set[topic] = struct{}{}
	}
	return set
}

// Option configures optional Registry behaviour at construction time.
type Option func(*Registry)

// WithClock overrides the wall-clock time source; primarily used in tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// Registry tracks live sessions and the topic index they derive.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byTopic  map[string]map[string]struct{}
	now      func() time.Time
}

// New constructs an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		byTopic:  make(map[string]map[string]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register creates a new session identity for an authenticated connection.
// Reconnecting with the same user id always yields a distinct session.
func (r *Registry) Register(userID string, role roles.Role, permissions []string) View {
	now := r.now().UTC()
	session := &Session{
		id:          newSessionID(),
		userID:      userID,
		role:        role,
		permissions: append([]string(nil), permissions...),
		topics:      make(map[string]struct{}),
		createdAt:   now,
		lastActive:  now,
		active:      true,
	}
	r.mu.Lock()
	r.sessions[session.id] = session
	view := r.viewLocked(session)
	r.mu.Unlock()
	return view
}

// Get reports the session view for the id, or absence.
func (r *Registry) Get(sessionID string) (View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return View{}, false
	}
	return r.viewLocked(session), true
}

// Touch refreshes last-active-at; unknown ids are a benign no-op.
// The timestamp never moves backwards for a given session.
func (r *Registry) Touch(sessionID string) bool {
	now := r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if now.After(session.lastActive) {
		session.lastActive = now
	}
	return true
}

// Remove deletes the session and cascades through every topic it held,
// dropping index entries left with no subscribers. Calling it twice has
// the same effect as once.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	r.dropMembershipLocked(session)
	session.active = false
	delete(r.sessions, sessionID)
	return true
}

// RemoveIfIdle deletes the session only while its last activity still
// predates the cutoff. A touch that serialised after the caller's idle
// snapshot moves lastActive past the cutoff and the removal becomes a
// no-op, so the touch always wins.
func (r *Registry) RemoveIfIdle(sessionID string, cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if !session.lastActive.Before(cutoff) {
		return false
	}
	r.dropMembershipLocked(session)
	session.active = false
	delete(r.sessions, sessionID)
	return true
}

// List returns stable views of every session ordered by id.
func (r *Registry) List() []View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]View, 0, len(r.sessions))
	for _, session := range r.sessions {
		views = append(views, r.viewLocked(session))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// CountByRole tallies live sessions per role.
func (r *Registry) CountByRole() map[roles.Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[roles.Role]int)
	for _, session := range r.sessions {
		counts[session.role]++
	}
	return counts
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IdleSince returns the ids of sessions whose last activity predates the
// cutoff. The caller owns the follow-up removal cascade.
func (r *Registry) IdleSince(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var idle []string
	for id, session := range r.sessions {
		if session.lastActive.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	sort.Strings(idle)
	return idle
}

// dropMembershipLocked empties the session from every topic entry;
// callers must hold the write lock.
func (r *Registry) dropMembershipLocked(session *Session) {
	for topic := range session.topics {
		members := r.byTopic[topic]
		delete(members, session.id)
		if len(members) == 0 {
			delete(r.byTopic, topic)
		}
	}
	session.topics = make(map[string]struct{})
}

func (r *Registry) viewLocked(session *Session) View {
	view := View{
		ID:          session.id,
		UserID:      session.userID,
		Role:        session.role,
		Permissions: append([]string(nil), session.permissions...),
		CreatedAt:   session.createdAt,
		LastActive:  session.lastActive,
		Active:      session.active,
	}
	if len(session.topics) > 0 {
		view.Topics = make([]string, 0, len(session.topics))
		for topic := range session.topics {
			view.Topics = append(view.Topics, topic)
		}
		sort.Strings(view.Topics)
	}
	return view
}

func newSessionID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err == nil {
		return hex.EncodeToString(buf[:])
	}
	return fmt.Sprintf("%x", time.Now().UnixNano())
}
