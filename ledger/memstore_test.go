package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"staging-backend/accounts"
)

var errBoom = errors.New("boom")

// memStore is an in-memory Store with per-table, per-user failure injection.
type memStore struct {
	mu        sync.Mutex
	rows      map[accounts.Table]map[string]*accounts.Account
	failWrite map[accounts.Table]map[string]bool
	failRead  map[accounts.Table]map[string]bool
	failList  bool
	writes    int
	// vanish drops the primary row of this user right after it is read.
	vanish string
}

func newMemStore() *memStore {
	return &memStore{
		rows: map[accounts.Table]map[string]*accounts.Account{
			accounts.Primary:    {},
			accounts.Projection: {},
		},
		failWrite: map[accounts.Table]map[string]bool{accounts.Primary: {}, accounts.Projection: {}},
		failRead:  map[accounts.Table]map[string]bool{accounts.Primary: {}, accounts.Projection: {}},
	}
}

func (s *memStore) put(t accounts.Table, a *accounts.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[t][a.UserID] = a.Clone()
}

func (s *memStore) row(t accounts.Table, userID string) *accounts.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[t][userID].Clone()
}

func (s *memStore) Get(_ context.Context, t accounts.Table, userID string) (*accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRead[t][userID] {
		return nil, errBoom
	}
	a, ok := s.rows[t][userID]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	if t == accounts.Primary && userID == s.vanish {
		delete(s.rows[t], userID)
	}
	return a.Clone(), nil
}

func (s *memStore) GetByEmail(_ context.Context, t accounts.Table, email string) (*accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.rows[t] {
		if a.Email == email {
			return a.Clone(), nil
		}
	}
	return nil, accounts.ErrNotFound
}

func (s *memStore) ListUserIDs(_ context.Context, t accounts.Table) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, errBoom
	}
	ids := make([]string, 0, len(s.rows[t]))
	for id := range s.rows[t] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) Insert(_ context.Context, t accounts.Table, a *accounts.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite[t][a.UserID] {
		return errBoom
	}
	if _, ok := s.rows[t][a.UserID]; ok {
		return errors.New("duplicate key")
	}
	s.writes++
	s.rows[t][a.UserID] = a.Clone()
	return nil
}

func (s *memStore) Update(_ context.Context, t accounts.Table, a *accounts.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite[t][a.UserID] {
		return errBoom
	}
	if _, ok := s.rows[t][a.UserID]; !ok {
		return accounts.ErrNotFound
	}
	s.writes++
	s.rows[t][a.UserID] = a.Clone()
	return nil
}

var fixedNow = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func acct(userID string, plan accounts.PlanType, limit, used int) *accounts.Account {
	return &accounts.Account{
		UserID:             userID,
		Email:              userID + "@example.com",
		PlanType:           plan,
		PhotosLimit:        limit,
		PhotosUsed:         used,
		SubscriptionStatus: accounts.StatusActive,
		CreatedAt:          fixedNow.Add(-48 * time.Hour),
		UpdatedAt:          fixedNow.Add(-48 * time.Hour),
	}
}

func newTestMutator(s Store) *Mutator {
	m := NewMutator(s)
	m.now = func() time.Time { return fixedNow }
	return m
}
