package registry

import (
	"sort"

	"fleettrace/hub/internal/access"
)

// Subscribe registers the session's interest in a topic. The permission
// gate is consulted first; on denial nothing is mutated and false is
// returned so the caller can send an explicit denial acknowledgment.
// Subscribing to an already-held topic leaves membership unchanged and
// still reports true.
func (r *Registry) Subscribe(sessionID, topic string) bool {
	if topic == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if !access.CanSubscribe(session.role, session.userID, topic) {
		return false
	}
	session.topics[topic] = struct{}{}
	members, ok := r.byTopic[topic]
	if !ok {
		members = make(map[string]struct{})
		r.byTopic[topic] = members
	}
	members[sessionID] = struct{}{}
	return true
}

// Unsubscribe drops the session's interest in a topic. Unknown sessions
// and never-subscribed topics are benign no-ops.
func (r *Registry) Unsubscribe(sessionID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(session.topics, topic)
	members := r.byTopic[topic]
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.byTopic, topic)
	}
}

// SubscribersOf returns the session ids currently interested in the topic.
func (r *Registry) SubscribersOf(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.byTopic[topic]
	if len(members) == 0 {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Topics returns a copy of the session's subscribed-topic set.
func (r *Registry) Topics(sessionID string) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	set := make(map[string]struct{}, len(session.topics))
	for topic := range session.topics {
		set[topic] = struct{}{}
	}
	return set
}

// TotalSubscriptions counts every (session, topic) membership pair.
func (r *Registry) TotalSubscriptions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, members := range r.byTopic {
		total += len(members)
	}
	return total
}
