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

// package broker runs the MQTT transport and binds its callback points
// onto the gateway. The mochi-mqtt server owns packet framing, session
// lifetime and delivery; this package only decides connect, subscribe
// and publish outcomes.
package broker

import (
	"bytes"
	"context"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/turtacn/mqttgate/pkg/gateway"
)

// GatewayHook adapts the four broker callback points onto the gateway.
type GatewayHook struct {
	mqtt.HookBase
	gateway *gateway.Gateway
}

// NewGatewayHook creates a hook forwarding to the given gateway.
func NewGatewayHook(g *gateway.Gateway) *GatewayHook {
	return &GatewayHook{gateway: g}
}

// ID returns the ID of the hook.
func (h *GatewayHook) ID() string {
	return "mqttgate-gateway"
}

// Provides indicates which hook methods this hook provides.
func (h *GatewayHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnPublish,
		mqtt.OnDisconnect,
	}, []byte{b})
}

// OnConnectAuthenticate authenticates the connecting client against the
// user store. The broker can only surface a boolean here; the precise
// reason code is logged and counted by the gateway.
func (h *GatewayHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	code := h.gateway.Connect(context.Background(),
		string(pk.Connect.Username), string(pk.Connect.Password), cl.ID)
	return code == gateway.Success
}

// OnACLCheck authorizes subscription filters. Publish authorization is
// deferred to OnPublish, where the payload size needed for the quota
// check is available.
func (h *GatewayHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if write {
		return true
	}
	return h.gateway.AuthorizeSubscribe(context.Background(), cl.ID, topic)
}

// OnPublish authorizes an inbound application message; a rejected
// packet is dropped by the broker without tearing down the connection.
func (h *GatewayHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if !h.gateway.AuthorizePublish(context.Background(), cl.ID, pk.TopicName, int64(len(pk.Payload))) {
		return pk, packets.ErrRejectPacket
	}
	return pk, nil
}

// OnDisconnect releases the client id and its session attachment.
func (h *GatewayHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.gateway.Disconnect(cl.ID)
}
