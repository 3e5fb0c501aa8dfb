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

package broker

import (
	"testing"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mqttgate/pkg/auth"
	"github.com/turtacn/mqttgate/pkg/gateway"
	"github.com/turtacn/mqttgate/pkg/store"
)

func newTestHook(t *testing.T) (*GatewayHook, *store.MemStore) {
	t.Helper()

	s := store.NewMemStore()
	user := s.AddUser(&store.User{
		Username:     "alice",
		PasswordHash: "secret",
		Algorithm:    auth.HashPlain,
	})

	allowed, err := store.EncodeTopicList([]string{"data/#"})
	require.NoError(t, err)
	s.SetClaim(user.ID, store.ClaimSubscriptionWhitelist, allowed)
	s.SetClaim(user.ID, store.ClaimPublishWhitelist, allowed)

	return NewGatewayHook(gateway.New(s)), s
}

func connectPacket(username, password string) packets.Packet {
	return packets.Packet{
		Connect: packets.ConnectParams{
			Username: []byte(username),
			Password: []byte(password),
		},
	}
}

func TestHookProvides(t *testing.T) {
	h, _ := newTestHook(t)

	assert.True(t, h.Provides(mqtt.OnConnectAuthenticate))
	assert.True(t, h.Provides(mqtt.OnACLCheck))
	assert.True(t, h.Provides(mqtt.OnPublish))
	assert.True(t, h.Provides(mqtt.OnDisconnect))
	assert.False(t, h.Provides(mqtt.OnRetainMessage))
}

func TestHookAuthenticate(t *testing.T) {
	h, _ := newTestHook(t)
	cl := &mqtt.Client{ID: "client-1"}

	assert.False(t, h.OnConnectAuthenticate(cl, connectPacket("alice", "wrong")))
	assert.True(t, h.OnConnectAuthenticate(cl, connectPacket("alice", "secret")))

	// The same client id cannot authenticate twice while connected.
	cl2 := &mqtt.Client{ID: "client-1"}
	assert.False(t, h.OnConnectAuthenticate(cl2, connectPacket("alice", "secret")))

	h.OnDisconnect(cl, nil, true)
	assert.True(t, h.OnConnectAuthenticate(cl2, connectPacket("alice", "secret")))
}

func TestHookACLCheck(t *testing.T) {
	h, _ := newTestHook(t)
	cl := &mqtt.Client{ID: "client-1"}
	require.True(t, h.OnConnectAuthenticate(cl, connectPacket("alice", "secret")))

	// Subscription filters go through the gateway.
	assert.True(t, h.OnACLCheck(cl, "data/sensors/#", false))
	assert.False(t, h.OnACLCheck(cl, "admin/#", false))

	// Writes always pass here; OnPublish makes the publish decision.
	assert.True(t, h.OnACLCheck(cl, "admin/#", true))
}

func TestHookPublish(t *testing.T) {
	h, _ := newTestHook(t)
	cl := &mqtt.Client{ID: "client-1"}
	require.True(t, h.OnConnectAuthenticate(cl, connectPacket("alice", "secret")))

	pk := packets.Packet{TopicName: "data/sensors/1", Payload: []byte("22.5")}
	out, err := h.OnPublish(cl, pk)
	assert.NoError(t, err)
	assert.Equal(t, pk.TopicName, out.TopicName)

	pk = packets.Packet{TopicName: "admin/config", Payload: []byte("{}")}
	_, err = h.OnPublish(cl, pk)
	assert.ErrorIs(t, err, packets.ErrRejectPacket)
}

func TestHookPublishWithoutSession(t *testing.T) {
	h, _ := newTestHook(t)
	cl := &mqtt.Client{ID: "stranger"}

	_, err := h.OnPublish(cl, packets.Packet{TopicName: "data/x", Payload: []byte("1")})
	assert.ErrorIs(t, err, packets.ErrRejectPacket)
}
