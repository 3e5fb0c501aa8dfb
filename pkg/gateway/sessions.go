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

package gateway

import (
	"sync"

	"github.com/turtacn/mqttgate/pkg/store"
)

// sessionStore holds the resolved user for every live connection. An
// attachment is keyed either by the connection's client id (exact and
// unvalidated bindings) or by a shared client id prefix (pool binding).
// Prefix slots are reference counted: several connections may share one
// slot, and the slot only disappears when the last of them disconnects.
// When connections race on a shared slot the last writer wins, an
// accepted trade-off of the prefix pool design.
type sessionStore struct {
	mu          sync.RWMutex
	attachments map[string]*attachment
	keyByClient map[string]string
}

type attachment struct {
	user *store.User
	refs int
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		attachments: make(map[string]*attachment),
		keyByClient: make(map[string]string),
	}
}

// attach records the resolved user for a connection under the given
// session key and remembers which key the client id references so
// detach can release it later.
func (s *sessionStore) attach(key, clientID string, user *store.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attachments[key]
	if !ok {
		a = &attachment{}
		s.attachments[key] = a
	}
	a.user = user
	a.refs++
	s.keyByClient[clientID] = key
}

// detach releases the attachment referenced by the client id. Shared
// prefix slots survive until their last referencing connection is gone.
func (s *sessionStore) detach(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keyByClient[clientID]
	if !ok {
		return
	}
	delete(s.keyByClient, clientID)

	a, ok := s.attachments[key]
	if !ok {
		return
	}
	a.refs--
	if a.refs <= 0 {
		delete(s.attachments, key)
	}
}

// lookup returns the user attached under the given session key, or nil.
func (s *sessionStore) lookup(key string) *store.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attachments[key]
	if !ok {
		return nil
	}
	return a.user
}

// clientIDSet tracks the client ids currently holding an open
// connection, enforcing one live connection per client id.
type clientIDSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newClientIDSet() *clientIDSet {
	return &clientIDSet{ids: make(map[string]struct{})}
}

// has reports whether the client id currently holds a connection.
func (c *clientIDSet) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

// tryAdd claims the client id. It returns false if another live
// connection already holds it; check and insert are one atomic step.
func (c *clientIDSet) tryAdd(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[id]; ok {
		return false
	}
	c.ids[id] = struct{}{}
	return true
}

// remove releases the client id.
func (c *clientIDSet) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, id)
}
