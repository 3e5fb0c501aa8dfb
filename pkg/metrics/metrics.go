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

// package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts connection attempts by outcome
	// (success, bad_credentials, client_id_not_valid, error).
	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mqttgate_connections_total",
		Help: "The total number of MQTT connection attempts, by outcome.",
	},
		[]string{"outcome"},
	)

	// AuthorizationsTotal counts subscribe/publish authorization
	// decisions by operation and outcome (allow, deny).
	AuthorizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mqttgate_authorizations_total",
		Help: "The total number of authorization decisions, by operation and outcome.",
	},
		[]string{"operation", "outcome"},
	)

	// PublishesThrottledTotal counts publishes denied by the monthly
	// byte quota.
	PublishesThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttgate_publishes_throttled_total",
		Help: "The total number of publishes denied because a client exhausted its monthly byte quota.",
	})

	// LookupErrorsTotal counts store or evaluation failures that were
	// degraded to a deny at the gateway boundary.
	LookupErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttgate_lookup_errors_total",
		Help: "The total number of identity or claim lookups that failed and were denied.",
	})
)

// Serve starts an HTTP server to expose the Prometheus metrics.
func Serve(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	log.Printf("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logFatalf("Metrics server failed: %v", err)
	}
}

// logFatalf can be replaced by tests to prevent process exit.
var logFatalf = log.Fatalf
