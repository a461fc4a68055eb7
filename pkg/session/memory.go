package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention is how long a session is kept after creation,
// regardless of state.
const DefaultRetention = 24 * time.Hour

// ErrNoPresets rejects a create with an empty candidate list. A session past
// REGISTERED always carries at least one suggested preset, otherwise it could
// never be confirmed.
var ErrNoPresets = errors.New("session: at least one suggested preset is required")

// Store is the registry of in-flight preparation sessions. Implementations
// must be safe for concurrent use.
type Store interface {
	// Create registers a new session in SUGGESTED state and returns it.
	// presetIDs must be non-empty; ErrNoPresets otherwise. Any prior session
	// for the same dataset is superseded: it is no longer reachable by
	// dataset lookup but remains addressable by its own id until expiry.
	Create(ctx context.Context, datasetID string, presetIDs []string, owner Owner) (*Session, error)

	// Get returns the session by id, or nil if not found.
	Get(ctx context.Context, id string) (*Session, error)

	// GetByDataset returns the live session for a dataset, or nil.
	GetByDataset(ctx context.Context, datasetID string) (*Session, error)

	// Update advances the session's state and optionally attaches the
	// processed record. It returns false if the session does not exist or
	// the transition is illegal.
	Update(ctx context.Context, id string, state State, processed *ProcessedRecord) bool

	// SweepExpired removes sessions older than maxAge from both indices.
	// It returns the number removed.
	SweepExpired(ctx context.Context, maxAge time.Duration) int

	// Count returns the number of live sessions.
	Count(ctx context.Context) int

	// Close stops background routines.
	Close() error
}

// MemoryStore implements Store with an in-memory dual index under a single
// coarse lock: session id for lookups after suggestion, dataset id for the
// suggestion step itself. Both indices change together under the lock so a
// dangling cross-reference is never observable.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byDataset map[string]string
	retention time.Duration
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryStore creates a store with the given retention window.
// A zero retention means DefaultRetention.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention == 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		sessions:  make(map[string]*Session),
		byDataset: make(map[string]string),
		retention: retention,
		now:       time.Now,
	}
}

// Create registers a new session for the dataset, superseding any prior one.
func (s *MemoryStore) Create(_ context.Context, datasetID string, presetIDs []string, owner Owner) (*Session, error) {
	if len(presetIDs) == 0 {
		return nil, ErrNoPresets
	}
	sess := &Session{
		ID:                 uuid.NewString(),
		DatasetID:          datasetID,
		State:              StateSuggested,
		SuggestedPresetIDs: append([]string(nil), presetIDs...),
		Owner:              owner,
		CreatedAt:          s.now(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.byDataset[datasetID] = sess.ID
	s.mu.Unlock()

	return sess.clone(), nil
}

// Get returns the session by id, or nil.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil //nolint:nilnil // Store contract: nil,nil for not-found
	}
	return sess.clone(), nil
}

// GetByDataset returns the newest session for a dataset, or nil.
func (s *MemoryStore) GetByDataset(_ context.Context, datasetID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDataset[datasetID]
	if !ok {
		return nil, nil //nolint:nilnil // Store contract: nil,nil for not-found
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil //nolint:nilnil // Store contract: nil,nil for not-found
	}
	return sess.clone(), nil
}

// Update advances the session state under the write lock, so two concurrent
// confirmations for the same session cannot both observe SUGGESTED; the
// second sees the first's transition and fails the legality check.
func (s *MemoryStore) Update(_ context.Context, id string, state State, processed *ProcessedRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	if !CanTransition(sess.State, state) {
		return false
	}
	// Processed data accompanies exactly the states that require it.
	switch state {
	case StateReady:
		if processed == nil {
			return false
		}
		sess.Processed = processed
	case StateAnalyzed:
		// Keeps the record attached at READY.
	default:
		if processed != nil {
			return false
		}
	}
	sess.State = state
	return true
}

// SweepExpired removes sessions older than maxAge. The dataset index entry
// is removed only if it still points at the expiring session, so a superseded
// dataset mapping is never clobbered.
func (s *MemoryStore) SweepExpired(_ context.Context, maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for id, sess := range s.sessions {
		if sess.CreatedAt.After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		if s.byDataset[sess.DatasetID] == id {
			delete(s.byDataset, sess.DatasetID)
		}
		removed++
	}
	return removed
}

// Count returns the number of live sessions.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartSweep runs an immediate sweep and then sweeps on a recurring timer
// until Close is called.
func (s *MemoryStore) StartSweep(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	s.SweepExpired(ctx, s.retention)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepExpired(ctx, s.retention)
			}
		}
	}()
}

// Close stops the sweep goroutine and waits for it to exit. Safe to call
// even if StartSweep was never called.
func (s *MemoryStore) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
