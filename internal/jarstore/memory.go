package jarstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"credproxy/internal/model"
)

// cleanupInterval is how often expired jars are swept from memory.
const cleanupInterval = time.Minute

type memoryEntry struct {
	jar       model.Jar
	expiresAt time.Time
}

// MemoryStore keeps jars in process memory. Entries expire after the
// configured TTL without access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryStore creates a MemoryStore and starts its cleanup loop.
// A zero ttl disables expiry.
func NewMemoryStore(ttl time.Duration, logger *slog.Logger) *MemoryStore {
	st := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go st.cleanupLoop()
	return st
}

func (st *MemoryStore) Get(_ context.Context, sessionID string) (model.Jar, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.entries[sessionID]
	if !ok {
		return model.Jar{}, false
	}
	now := st.now()
	if st.expired(e, now) {
		delete(st.entries, sessionID)
		return model.Jar{}, false
	}
	if st.ttl > 0 {
		e.expiresAt = now.Add(st.ttl)
		st.entries[sessionID] = e
	}
	return e.jar.Clone(), true
}

func (st *MemoryStore) Put(_ context.Context, sessionID string, jar model.Jar) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := memoryEntry{jar: jar.Clone()}
	if st.ttl > 0 {
		e.expiresAt = st.now().Add(st.ttl)
	}
	st.entries[sessionID] = e
}

func (st *MemoryStore) Delete(_ context.Context, sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.entries, sessionID)
}

// Len returns the number of live entries.
func (st *MemoryStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}

// Close stops the cleanup loop. It is safe to call more than once.
func (st *MemoryStore) Close() error {
	st.stopOnce.Do(func() { close(st.stop) })
	<-st.done
	return nil
}

func (st *MemoryStore) expired(e memoryEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (st *MemoryStore) cleanupLoop() {
	defer close(st.done)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			if n := st.sweep(); n > 0 {
				st.logger.Debug("expired jars removed", "count", n)
			}
		}
	}
}

// sweep removes expired entries and reports how many were dropped.
func (st *MemoryStore) sweep() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	n := 0
	for id, e := range st.entries {
		if st.expired(e, now) {
			delete(st.entries, id)
			n++
		}
	}
	return n
}
