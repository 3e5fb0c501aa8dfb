// Copyright 2024 The mqttgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store provides read access to the gateway's users and their
// per-user topic claims. Two implementations exist: an in-memory store
// for tests and config-seeded deployments, and a SQL store backed by
// PostgreSQL or SQLite.
package store

import (
	"context"
	"strings"
	"sync"
)

// UserStore is the lookup interface the gateway authenticates and
// authorizes against. Lookups return (nil, nil) when the record does
// not exist; an error always means a transport or backend failure.
type UserStore interface {
	// FindUserByUsername looks up a user by exact, case-sensitive username.
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	// FindClaim looks up the single claim of the given type for a user.
	FindClaim(ctx context.Context, userID int64, claimType ClaimType) (*UserClaim, error)
	// ListClientIDPrefixes returns all non-empty client id prefixes
	// registered across users.
	ListClientIDPrefixes(ctx context.Context) ([]string, error)
}

// MemStore is an in-memory implementation of UserStore. It uses a
// RWMutex so concurrent lookups from many connections never block each
// other.
type MemStore struct {
	mu     sync.RWMutex
	users  map[string]*User
	claims map[int64]map[ClaimType]*UserClaim
	nextID int64
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		users:  make(map[string]*User),
		claims: make(map[int64]map[ClaimType]*UserClaim),
		nextID: 1,
	}
}

// AddUser inserts or replaces a user. A zero ID is assigned
// automatically.
func (s *MemStore) AddUser(user *User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == 0 {
		user.ID = s.nextID
		s.nextID++
	} else if user.ID >= s.nextID {
		s.nextID = user.ID + 1
	}
	s.users[user.Username] = user
	return user
}

// SetClaim inserts or replaces the claim of the given type for a user,
// preserving the invariant of at most one claim per (user, type) pair.
func (s *MemStore) SetClaim(userID int64, claimType ClaimType, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType, ok := s.claims[userID]
	if !ok {
		byType = make(map[ClaimType]*UserClaim)
		s.claims[userID] = byType
	}
	byType[claimType] = &UserClaim{UserID: userID, Type: claimType, Value: value}
}

// FindUserByUsername implements UserStore.
func (s *MemStore) FindUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	return user, nil
}

// FindClaim implements UserStore.
func (s *MemStore) FindClaim(_ context.Context, userID int64, claimType ClaimType) (*UserClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	claim, ok := s.claims[userID][claimType]
	if !ok {
		return nil, nil
	}
	return claim, nil
}

// ListClientIDPrefixes implements UserStore.
func (s *MemStore) ListClientIDPrefixes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var prefixes []string
	for _, user := range s.users {
		if strings.TrimSpace(user.ClientIDPrefix) != "" {
			prefixes = append(prefixes, user.ClientIDPrefix)
		}
	}
	return prefixes, nil
}
