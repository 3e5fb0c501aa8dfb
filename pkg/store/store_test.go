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

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreFindUser(t *testing.T) {
	s := NewMemStore()
	s.AddUser(&User{Username: "alice", PasswordHash: "hash"})

	user, err := s.FindUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
	assert.NotZero(t, user.ID)

	// Lookups are case-sensitive and absence is not an error.
	user, err = s.FindUserByUsername(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestMemStoreClaims(t *testing.T) {
	s := NewMemStore()
	user := s.AddUser(&User{Username: "alice"})

	value, err := EncodeTopicList([]string{"a/b", "c/#"})
	require.NoError(t, err)
	s.SetClaim(user.ID, ClaimPublishWhitelist, value)

	claim, err := s.FindClaim(context.Background(), user.ID, ClaimPublishWhitelist)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, []string{"a/b", "c/#"}, claim.TopicList())

	// The other claim types stay absent.
	claim, err = s.FindClaim(context.Background(), user.ID, ClaimPublishBlacklist)
	require.NoError(t, err)
	assert.Nil(t, claim)

	// Replacing keeps a single claim per (user, type) pair.
	value, err = EncodeTopicList([]string{"x"})
	require.NoError(t, err)
	s.SetClaim(user.ID, ClaimPublishWhitelist, value)
	claim, err = s.FindClaim(context.Background(), user.ID, ClaimPublishWhitelist)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, claim.TopicList())
}

func TestMemStorePrefixes(t *testing.T) {
	s := NewMemStore()
	s.AddUser(&User{Username: "a", ClientIDPrefix: "device-"})
	s.AddUser(&User{Username: "b", ClientIDPrefix: "sensor-"})
	s.AddUser(&User{Username: "c"})
	s.AddUser(&User{Username: "d", ClientIDPrefix: "   "})

	prefixes, err := s.ListClientIDPrefixes(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"device-", "sensor-"}, prefixes)
}

func TestClaimTypeRoundTrip(t *testing.T) {
	for _, ct := range []ClaimType{
		ClaimSubscriptionBlacklist,
		ClaimSubscriptionWhitelist,
		ClaimPublishBlacklist,
		ClaimPublishWhitelist,
	} {
		parsed, err := ParseClaimType(ct.String())
		require.NoError(t, err)
		assert.Equal(t, ct, parsed)
	}

	_, err := ParseClaimType("Nonsense")
	assert.Error(t, err)
}

func TestTopicListMalformedValue(t *testing.T) {
	claim := &UserClaim{UserID: 1, Type: ClaimPublishBlacklist, Value: "{not json"}
	assert.Empty(t, claim.TopicList())

	claim = &UserClaim{UserID: 1, Type: ClaimPublishBlacklist, Value: ""}
	assert.Empty(t, claim.TopicList())

	var nilClaim *UserClaim
	assert.Empty(t, nilClaim.TopicList())
}
