package attempt

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
)

// SessionStore keeps sessions with an expiry. Expired entries read as
// ErrNotFound.
type SessionStore interface {
	Get(ctx context.Context, id string) (Session, error)
	// Active returns the unsubmitted session of userID for examID.
	Active(ctx context.Context, userID, examID string) (Session, error)
	Put(ctx context.Context, s Session, ttl time.Duration) error
	// Update reads id, lets fn change it and writes it back only if nobody
	// else wrote the session in between. fn returns the new TTL; its error
	// aborts the write and comes back unchanged.
	Update(ctx context.Context, id string, fn func(*Session) (time.Duration, error)) (Session, error)
	// CountLive reports how many in-progress sessions belong to examID.
	CountLive(ctx context.Context, examID string) (int, error)
	// Due lists in-progress sessions whose deadline is at or before now,
	// earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
	Delete(ctx context.Context, id string) error
}

func activeKey(userID, examID string) string { return userID + "/" + examID }

type memEntry struct {
	s       Session
	expires time.Time
}

// MemoryStore is a process-local SessionStore.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[string]memEntry
	active map[string]string
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]memEntry{}, active: map[string]string{}, now: time.Now}
}

// lookup returns the live entry for id, dropping it when expired.
func (m *MemoryStore) lookup(id string) (Session, bool) {
	e, ok := m.items[id]
	if !ok {
		return Session{}, false
	}
	if !m.now().Before(e.expires) {
		m.drop(e.s)
		return Session{}, false
	}
	return e.s, true
}

func (m *MemoryStore) drop(s Session) {
	delete(m.items, s.ID)
	if k := activeKey(s.UserID, s.ExamID); m.active[k] == s.ID {
		delete(m.active, k)
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.lookup(id)
	if !ok {
		return Session{}, apperr.NotFound("attempt " + id)
	}
	return s.clone(), nil
}

func (m *MemoryStore) Active(_ context.Context, userID, examID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[activeKey(userID, examID)]
	if !ok {
		return Session{}, apperr.NotFound("active attempt")
	}
	s, ok := m.lookup(id)
	if !ok {
		return Session{}, apperr.NotFound("active attempt")
	}
	return s.clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(s, ttl)
	return nil
}

func (m *MemoryStore) put(s Session, ttl time.Duration) {
	m.items[s.ID] = memEntry{s: s.clone(), expires: m.now().Add(ttl)}
	k := activeKey(s.UserID, s.ExamID)
	if s.Status == StatusSubmitted {
		if m.active[k] == s.ID {
			delete(m.active, k)
		}
	} else {
		m.active[k] = s.ID
	}
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*Session) (time.Duration, error)) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.lookup(id)
	if !ok {
		return Session{}, apperr.NotFound("attempt " + id)
	}
	next := cur.clone()
	ttl, err := fn(&next)
	if err != nil {
		return Session{}, err
	}
	m.put(next, ttl)
	return next.clone(), nil
}

func (m *MemoryStore) CountLive(_ context.Context, examID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id := range m.items {
		if s, ok := m.lookup(id); ok && s.ExamID == examID && s.Status == StatusInProgress {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Session
	for id := range m.items {
		s, ok := m.lookup(id)
		if ok && s.Status == StatusInProgress && !s.Deadline.After(now) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Deadline.Before(due[j].Deadline) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, s := range due {
		ids[i] = s.ID
	}
	return ids, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[id]; ok {
		m.drop(e.s)
	}
	return nil
}
