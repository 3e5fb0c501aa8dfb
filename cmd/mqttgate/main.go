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

// package main is the entrypoint for the mqttgate gateway.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/mqttgate/pkg/broker"
	"github.com/turtacn/mqttgate/pkg/config"
	"github.com/turtacn/mqttgate/pkg/gateway"
	"github.com/turtacn/mqttgate/pkg/metrics"
	"github.com/turtacn/mqttgate/pkg/quota"
	"github.com/turtacn/mqttgate/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file (.yaml, .yml or .json)")
	flag.Parse()

	log.Println("Starting mqttgate MQTT gateway...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	users, closeStore, err := buildUserStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize user store: %v", err)
	}
	defer closeStore()

	tracker := quota.NewTracker(quota.WithLocation(cfg.QuotaLocation()))

	gw := gateway.New(users,
		gateway.WithQuotaTracker(tracker),
		gateway.WithLookupTimeout(cfg.Gateway.LookupTimeout),
	)

	srv, err := broker.NewServer(gw)
	if err != nil {
		log.Fatalf("Failed to create MQTT server: %v", err)
	}

	go func() {
		if err := srv.StartServer(ctx, cfg.Gateway.MQTTAddr); err != nil {
			log.Fatalf("MQTT server failed: %v", err)
		}
	}()

	go metrics.Serve(cfg.Gateway.MetricsAddr)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	<-shutdownChan

	log.Println("Shutdown signal received. Shutting down...")
	cancel()
	if err := srv.Close(); err != nil {
		log.Printf("[WARN] Error closing MQTT server: %v", err)
	}
}

// buildUserStore creates the configured store backend. The returned
// func releases the backend's resources.
func buildUserStore(ctx context.Context, cfg *config.Config) (store.UserStore, func(), error) {
	switch cfg.Gateway.Store.Backend {
	case "memory":
		mem, err := cfg.SeedMemStore()
		if err != nil {
			return nil, nil, err
		}
		return mem, func() {}, nil
	default:
		sqlCfg := cfg.Gateway.Store.SQL
		if sqlCfg.Driver == "" {
			sqlCfg.Driver = cfg.Gateway.Store.Backend
		}
		sqlStore, err := store.NewSQLStore(sqlCfg)
		if err != nil {
			return nil, nil, err
		}
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			sqlStore.Close()
			return nil, nil, err
		}
		log.Printf("[INFO] Using %s user store", cfg.Gateway.Store.Backend)
		return sqlStore, func() {
			if err := sqlStore.Close(); err != nil {
				log.Printf("[WARN] Error closing user store: %v", err)
			}
		}, nil
	}
}
