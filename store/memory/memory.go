// Package memory is the reference in-process implementation of the token
// store ports. Every conditional transition happens under one lock, which
// gives the same serialization guarantee a distributed backend provides
// with single-statement conditional updates.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kvoss-dev/authcore/store"
	"github.com/kvoss-dev/authcore/token"
)

// RefreshStore is an in-memory store.RefreshTokens implementation.
type RefreshStore struct {
	mu       sync.Mutex
	byID     map[string]token.RefreshToken
	byHash   map[[32]byte]string
	byFamily map[string][]string
	byUser   map[string][]string
}

// NewRefreshStore creates an empty refresh-token store.
func NewRefreshStore() *RefreshStore {
	return &RefreshStore{
		byID:     make(map[string]token.RefreshToken),
		byHash:   make(map[[32]byte]string),
		byFamily: make(map[string][]string),
		byUser:   make(map[string][]string),
	}
}

func (s *RefreshStore) Save(_ context.Context, t token.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[t.ID()]; !exists {
		s.byFamily[t.FamilyID()] = append(s.byFamily[t.FamilyID()], t.ID())
		s.byUser[t.UserID()] = append(s.byUser[t.UserID()], t.ID())
	}
	s.byID[t.ID()] = t
	s.byHash[t.Hash()] = t.ID()
	return nil
}

func (s *RefreshStore) FindByHash(_ context.Context, hash [32]byte) (token.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return token.RefreshToken{}, store.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *RefreshStore) FindByID(_ context.Context, id string) (token.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return token.RefreshToken{}, store.ErrNotFound
	}
	return t, nil
}

func (s *RefreshStore) MarkRotated(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if t.Status() != token.RefreshActive {
		return false, nil
	}
	s.byID[id] = t.WithRotated(now)
	return true, nil
}

func (s *RefreshStore) MarkRevoked(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if t.Status() == token.RefreshRevoked {
		return false, nil
	}
	s.byID[id] = t.WithRevoked(now)
	return true, nil
}

func (s *RefreshStore) RevokeFamily(_ context.Context, familyID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, id := range s.byFamily[familyID] {
		t := s.byID[id]
		if t.Status() == token.RefreshRevoked {
			continue
		}
		s.byID[id] = t.WithRevoked(now)
		revoked++
	}
	return revoked, nil
}

func (s *RefreshStore) RevokeAllByUser(_ context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, id := range s.byUser[userID] {
		t := s.byID[id]
		if t.Status() == token.RefreshRevoked {
			continue
		}
		s.byID[id] = t.WithRevoked(now)
		revoked++
	}
	return revoked, nil
}

func (s *RefreshStore) FindFamilyRoot(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return "", store.ErrNotFound
	}
	// FamilyID is denormalized to the root id at creation time.
	return t.FamilyID(), nil
}

func (s *RefreshStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, t := range s.byID {
		if t.ExpiresAt().After(before) {
			continue
		}
		delete(s.byID, id)
		delete(s.byHash, t.Hash())
		s.byFamily[t.FamilyID()] = removeID(s.byFamily[t.FamilyID()], id)
		if len(s.byFamily[t.FamilyID()]) == 0 {
			delete(s.byFamily, t.FamilyID())
		}
		s.byUser[t.UserID()] = removeID(s.byUser[t.UserID()], id)
		if len(s.byUser[t.UserID()]) == 0 {
			delete(s.byUser, t.UserID())
		}
		deleted++
	}
	return deleted, nil
}

// ResetStore is an in-memory store.ResetTokens implementation.
type ResetStore struct {
	mu     sync.Mutex
	byID   map[string]token.ResetToken
	byHash map[[32]byte]string
	byUser map[string][]string
}

// NewResetStore creates an empty reset-token store.
func NewResetStore() *ResetStore {
	return &ResetStore{
		byID:   make(map[string]token.ResetToken),
		byHash: make(map[[32]byte]string),
		byUser: make(map[string][]string),
	}
}

func (s *ResetStore) Save(_ context.Context, t token.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[t.ID()]; !exists {
		s.byUser[t.UserID()] = append(s.byUser[t.UserID()], t.ID())
	}
	s.byID[t.ID()] = t
	s.byHash[t.Hash()] = t.ID()
	return nil
}

func (s *ResetStore) FindByHash(_ context.Context, hash [32]byte) (token.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return token.ResetToken{}, store.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *ResetStore) MarkUsed(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if t.Status() != token.ResetActive {
		return false, nil
	}
	s.byID[id] = t.WithUsed(now)
	return true, nil
}

func (s *ResetStore) RevokeAllByUser(_ context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, id := range s.byUser[userID] {
		t := s.byID[id]
		if t.Status() != token.ResetActive {
			continue
		}
		s.byID[id] = t.WithRevoked(now)
		revoked++
	}
	return revoked, nil
}

func (s *ResetStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, t := range s.byID {
		if t.ExpiresAt().After(before) {
			continue
		}
		delete(s.byID, id)
		delete(s.byHash, t.Hash())
		s.byUser[t.UserID()] = removeID(s.byUser[t.UserID()], id)
		if len(s.byUser[t.UserID()]) == 0 {
			delete(s.byUser, t.UserID())
		}
		deleted++
	}
	return deleted, nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
