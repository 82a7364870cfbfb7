package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/jonboulle/clockwork"
)

type memoryRecords struct {
	sync.Mutex

	records map[string]ProjectRecord
	timers  map[string]map[string]time.Duration
	traffic map[string]map[string]uint64
}

// NewMemoryRecords returns a mutex-guarded in-memory project record store,
// used in tests and single-node deployments.
func NewMemoryRecords() ProjectRecords {
	return &memoryRecords{
		records: make(map[string]ProjectRecord),
		timers:  make(map[string]map[string]time.Duration),
		traffic: make(map[string]map[string]uint64),
	}
}

func (s *memoryRecords) Create(_ context.Context, rec ProjectRecord) error {
	if rec.ID == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return errors.ErrEntityExists
	}
	s.records[rec.ID] = rec

	return nil
}

func (s *memoryRecords) Get(_ context.Context, id string) (ProjectRecord, error) {
	if id == "" {
		return ProjectRecord{}, errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ProjectRecord{}, errors.ErrNotFound
	}

	return rec, nil
}

func (s *memoryRecords) Update(_ context.Context, rec ProjectRecord) error {
	if rec.ID == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		return errors.ErrNotFound
	}
	s.records[rec.ID] = rec

	return nil
}

func (s *memoryRecords) List(_ context.Context, offset, limit uint64) ([]ProjectRecord, uint64, error) {
	s.Lock()
	defer s.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := uint64(len(ids))
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	result := make([]ProjectRecord, end-offset)
	for i := offset; i < end; i++ {
		result[i-offset] = s.records[ids[i]]
	}

	return result, total, nil
}

func (s *memoryRecords) Delete(_ context.Context, id string) error {
	if id == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	delete(s.records, id)
	delete(s.timers, id)
	delete(s.traffic, id)

	return nil
}

func (s *memoryRecords) SaveTimers(_ context.Context, projectID string, timers map[string]time.Duration) error {
	if projectID == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	snapshot := make(map[string]time.Duration, len(timers))
	for k, v := range timers {
		snapshot[k] = v
	}
	s.timers[projectID] = snapshot

	return nil
}

func (s *memoryRecords) SaveTraffic(_ context.Context, projectID string, traffic map[string]uint64) error {
	if projectID == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	snapshot := make(map[string]uint64, len(traffic))
	for k, v := range traffic {
		snapshot[k] = v
	}
	s.traffic[projectID] = snapshot

	return nil
}

type memoryTokens struct {
	sync.Mutex

	clock  clockwork.Clock
	tokens map[string]Token
}

// NewMemoryTokens returns a mutex-guarded in-memory token store.
func NewMemoryTokens() TokenStore {
	return NewMemoryTokensWithClock(clockwork.NewRealClock())
}

// NewMemoryTokensWithClock is NewMemoryTokens with an injected clock, so
// tests control the claim timestamps.
func NewMemoryTokensWithClock(clock clockwork.Clock) TokenStore {
	return &memoryTokens{
		clock:  clock,
		tokens: make(map[string]Token),
	}
}

func (s *memoryTokens) Create(_ context.Context, t Token) error {
	if t.Value == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.tokens[t.Value]; ok {
		return errors.ErrEntityExists
	}
	s.tokens[t.Value] = t

	return nil
}

func (s *memoryTokens) Get(_ context.Context, value string) (Token, error) {
	if value == "" {
		return Token{}, errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	t, ok := s.tokens[value]
	if !ok {
		return Token{}, errors.ErrNotFound
	}

	return t, nil
}

func (s *memoryTokens) Claim(_ context.Context, value, username string) (Token, error) {
	if value == "" || username == "" {
		return Token{}, errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	t, ok := s.tokens[value]
	if !ok {
		return Token{}, errors.ErrNotFound
	}
	if t.Username == username {
		return t, nil
	}
	if t.Claimed() {
		return Token{}, errors.ErrNotAuthorized
	}
	for _, other := range s.tokens {
		if other.ProjectID == t.ProjectID && other.Username == username {
			return Token{}, errors.ErrNotAuthorized
		}
	}

	t.Username = username
	t.ClaimedAt = s.clock.Now()
	s.tokens[value] = t

	return t, nil
}

func (s *memoryTokens) ListByProject(_ context.Context, projectID string) ([]Token, error) {
	if projectID == "" {
		return nil, errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	var result []Token
	for _, t := range s.tokens {
		if t.ProjectID == projectID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Value < result[j].Value })

	return result, nil
}

func (s *memoryTokens) DeleteByProject(_ context.Context, projectID string) error {
	if projectID == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	for value, t := range s.tokens {
		if t.ProjectID == projectID {
			delete(s.tokens, value)
		}
	}

	return nil
}
