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
	"context"
	"fmt"
	"log"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/turtacn/mqttgate/pkg/gateway"
)

// Server is the gateway-fronted MQTT broker.
type Server struct {
	mqtt *mqtt.Server
}

// NewServer builds a broker with the gateway hook attached.
func NewServer(g *gateway.Gateway) (*Server, error) {
	server := mqtt.New(&mqtt.Options{InlineClient: false})
	if err := server.AddHook(NewGatewayHook(g), nil); err != nil {
		return nil, fmt.Errorf("failed to add gateway hook: %w", err)
	}
	return &Server{mqtt: server}, nil
}

// StartServer begins listening for incoming MQTT connections on the
// specified address and blocks until the context is cancelled.
func (s *Server) StartServer(ctx context.Context, addr string) error {
	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})
	if err := s.mqtt.AddListener(tcp); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if err := s.mqtt.Serve(); err != nil {
		return fmt.Errorf("broker failed to start: %w", err)
	}
	log.Printf("MQTT gateway listening on %s", addr)

	<-ctx.Done()
	log.Println("Broker is shutting down.")
	return s.mqtt.Close()
}

// Close stops the broker immediately.
func (s *Server) Close() error {
	return s.mqtt.Close()
}
