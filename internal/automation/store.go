package automation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// RuleStore is the rule set the engine dispatches against.
// Rules returns every rule ordered by ID.
type RuleStore interface {
	Rules(ctx context.Context) ([]Rule, error)
	Rule(ctx context.Context, id int) (Rule, error)
	SetActive(ctx context.Context, id int, active bool) (Rule, error)
}

// MemoryStore is an in-process RuleStore. Replace swaps the whole set
// atomically, which is how config reloads apply.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[int]Rule
}

func NewMemoryStore(rules ...Rule) (*MemoryStore, error) {
	s := &MemoryStore{rules: map[int]Rule{}}
	if err := s.Replace(rules); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStore) Rules(_ context.Context) ([]Rule, error) {
	s.mu.RLock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Rule(_ context.Context, id int) (Rule, error) {
	s.mu.RLock()
	r, ok := s.rules[id]
	s.mu.RUnlock()
	if !ok {
		return Rule{}, fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	return r, nil
}

func (s *MemoryStore) SetActive(_ context.Context, id int, active bool) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	r.Active = active
	s.rules[id] = r
	return r, nil
}

// Put validates and upserts a single rule.
func (s *MemoryStore) Put(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.rules[r.ID] = r
	s.mu.Unlock()
	return nil
}

// Replace validates every rule, rejects duplicate IDs and swaps the set.
// On error the previous set is kept.
func (s *MemoryStore) Replace(rules []Rule) error {
	next := make(map[int]Rule, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := next[r.ID]; dup {
			return &ConfigurationError{RuleID: r.ID, Field: "id", Reason: "duplicate rule id"}
		}
		next[r.ID] = r
	}
	s.mu.Lock()
	s.rules = next
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

func itoa(i int) string { return strconv.Itoa(i) }
