package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stridehq/stridesync/internal/challenge"
)

// MemoryStore is an in-process Store used by tests and the conformance
// harness. It honors the full conditional-write contract, including version
// conflicts and duplicate-event detection, and adds failure injection
// switches so gate and reconciler behavior can be exercised without a
// network.
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryStore struct {
	mu          sync.Mutex
	challenges  map[string]challenge.Challenge
	completions map[string][]challenge.CompletionRecord // keyed by challenge ID
	eventIDs    map[string]string                       // event ID -> completion ID
	nextRecID   int64

	unavailable   bool
	conflictsLeft int // force the next N CompareAndPut calls to conflict
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges:  make(map[string]challenge.Challenge),
		completions: make(map[string][]challenge.CompletionRecord),
		eventIDs:    make(map[string]string),
	}
}

// SetUnavailable toggles simulated backend unreachability. While set, every
// method fails with ErrUnavailable.
func (m *MemoryStore) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// FailNextWithConflict makes the next n CompareAndPut calls fail with
// ErrVersionConflict, simulating concurrent writers losing races.
func (m *MemoryStore) FailNextWithConflict(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflictsLeft = n
}

func (m *MemoryStore) checkUp() error {
	if m.unavailable {
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryStore) GetChallenge(ctx context.Context, id string) (challenge.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return challenge.Challenge{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUp(); err != nil {
		return challenge.Challenge{}, err
	}
	c, ok := m.challenges[id]
	if !ok {
		return challenge.Challenge{}, fmt.Errorf("challenge %q: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (m *MemoryStore) PutChallenge(ctx context.Context, c challenge.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUp(); err != nil {
		return err
	}
	if prev, ok := m.challenges[c.ID]; ok {
		c.Version = prev.Version + 1
	} else {
		c.Version = 1
	}
	m.challenges[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) CompareAndPut(ctx context.Context, c challenge.Challenge, expectedVersion int64, rec *challenge.CompletionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUp(); err != nil {
		return err
	}
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return ErrVersionConflict
	}

	prev, ok := m.challenges[c.ID]
	if !ok {
		return fmt.Errorf("challenge %q: %w", c.ID, ErrNotFound)
	}
	if prev.Version != expectedVersion {
		return ErrVersionConflict
	}
	if rec != nil {
		if _, dup := m.eventIDs[rec.EventID]; dup {
			return fmt.Errorf("event %q: %w", rec.EventID, ErrDuplicateEvent)
		}
	}

	c.Version = expectedVersion + 1
	m.challenges[c.ID] = c.Clone()

	if rec != nil {
		m.nextRecID++
		rec.ID = fmt.Sprintf("rec-%06d", m.nextRecID)
		m.eventIDs[rec.EventID] = rec.ID
		m.completions[c.ID] = append(m.completions[c.ID], *rec)
	}
	return nil
}

func (m *MemoryStore) Completions(ctx context.Context, challengeID string) ([]challenge.CompletionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUp(); err != nil {
		return nil, err
	}
	recs := m.completions[challengeID]
	out := make([]challenge.CompletionRecord, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkUp()
}
