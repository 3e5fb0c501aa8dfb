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

// Package gateway decides, for every connecting MQTT client and every
// subscribe or publish, whether the operation is allowed. It resolves
// the client's identity against the user store, evaluates the user's
// blacklist/whitelist topic claims, and applies the monthly byte quota
// to publishes. All entry points are safe for concurrent use from
// independent connections, and every failure degrades to a deny.
package gateway

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/turtacn/mqttgate/pkg/auth"
	"github.com/turtacn/mqttgate/pkg/metrics"
	"github.com/turtacn/mqttgate/pkg/quota"
	"github.com/turtacn/mqttgate/pkg/store"
	"github.com/turtacn/mqttgate/pkg/topics"
)

// ReasonCode is the outcome of a connection attempt. Denials are
// routine results, not errors.
type ReasonCode int

const (
	// Success indicates the connection was accepted.
	Success ReasonCode = iota
	// BadCredentials covers unknown users and wrong passwords alike, so
	// the two cases are indistinguishable to the client.
	BadCredentials
	// ClientIDNotValid indicates the client id does not satisfy the
	// user's binding or is already connected.
	ClientIDNotValid
	// ServerUnavailable indicates an infrastructure failure during the
	// lookup; the connection is rejected without blaming the
	// credentials.
	ServerUnavailable
)

// String returns the metric label form of the reason code.
func (rc ReasonCode) String() string {
	switch rc {
	case Success:
		return "success"
	case BadCredentials:
		return "bad_credentials"
	case ClientIDNotValid:
		return "client_id_not_valid"
	case ServerUnavailable:
		return "server_unavailable"
	default:
		return "unknown"
	}
}

// Operation is the kind of broker operation being authorized.
type Operation int

const (
	// Subscribe is a subscription request.
	Subscribe Operation = iota
	// Publish is an inbound application message.
	Publish
)

// String returns the metric label form of the operation.
func (op Operation) String() string {
	if op == Publish {
		return "publish"
	}
	return "subscribe"
}

// claimTypes maps the operation onto the blacklist/whitelist claim pair
// it is evaluated against.
func (op Operation) claimTypes() (blacklist, whitelist store.ClaimType) {
	if op == Publish {
		return store.ClaimPublishBlacklist, store.ClaimPublishWhitelist
	}
	return store.ClaimSubscriptionBlacklist, store.ClaimSubscriptionWhitelist
}

// Gateway is the long-lived connection/authorization gateway. It owns
// the three pieces of shared mutable state: the connected-client-id
// set, the session attachment store and the quota tracker. Construct
// one per process with New; each test constructs its own.
type Gateway struct {
	users         store.UserStore
	verifier      auth.Verifier
	quota         *quota.Tracker
	sessions      *sessionStore
	connected     *clientIDSet
	lookupTimeout time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithVerifier replaces the password verifier.
func WithVerifier(v auth.Verifier) Option {
	return func(g *Gateway) {
		g.verifier = v
	}
}

// WithQuotaTracker replaces the quota tracker, letting callers pick the
// period timezone or inject a test clock.
func WithQuotaTracker(t *quota.Tracker) Option {
	return func(g *Gateway) {
		g.quota = t
	}
}

// WithLookupTimeout bounds every store lookup. A lookup that exceeds
// the bound fails, and the operation is denied rather than left
// hanging.
func WithLookupTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.lookupTimeout = d
	}
}

// New creates a Gateway reading users and claims from the given store.
func New(users store.UserStore, opts ...Option) *Gateway {
	g := &Gateway{
		users:         users,
		verifier:      auth.NewVerifier(),
		quota:         quota.NewTracker(),
		sessions:      newSessionStore(),
		connected:     newClientIDSet(),
		lookupTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect authenticates a connection attempt and, on success, registers
// the client id in the connected set and stores the session attachment.
// Unknown username and wrong password both return BadCredentials.
func (g *Gateway) Connect(ctx context.Context, username, password, clientID string) ReasonCode {
	code := g.connect(ctx, username, password, clientID)
	metrics.ConnectionsTotal.WithLabelValues(code.String()).Inc()
	return code
}

func (g *Gateway) connect(ctx context.Context, username, password, clientID string) ReasonCode {
	if strings.TrimSpace(username) == "" {
		return BadCredentials
	}

	if g.connected.has(clientID) {
		log.Printf("[WARN] A client with client id %s is already connected", clientID)
		return ClientIDNotValid
	}

	ctx, cancel := g.bound(ctx)
	defer cancel()

	user, err := g.users.FindUserByUsername(ctx, username)
	if err != nil {
		log.Printf("[ERROR] User lookup failed for client %s: %v", clientID, err)
		metrics.LookupErrorsTotal.Inc()
		return ServerUnavailable
	}
	if user == nil || user.PasswordHash == "" {
		log.Printf("[WARN] Connection denied for client %s: bad credentials", clientID)
		return BadCredentials
	}
	if g.verifier.Verify(user.PasswordHash, password, user.Salt, user.Algorithm) != auth.VerifySuccess {
		log.Printf("[WARN] Connection denied for client %s: bad credentials", clientID)
		return BadCredentials
	}

	// Work out which session key the user's client id binding yields.
	// Prefix binding takes precedence over the exact id binding; with
	// ValidateClientID off, neither applies.
	sessionKey := clientID
	switch {
	case !user.ValidateClientID:
	case strings.TrimSpace(user.ClientIDPrefix) != "":
		sessionKey = user.ClientIDPrefix
	default:
		if clientID != user.ClientID {
			log.Printf("[WARN] Connection denied for client %s: client id does not match binding of user %s", clientID, user.Username)
			return ClientIDNotValid
		}
		sessionKey = user.ClientID
	}

	// The connected set is the arbiter when two connects race on the
	// same client id.
	if !g.connected.tryAdd(clientID) {
		log.Printf("[WARN] A client with client id %s is already connected", clientID)
		return ClientIDNotValid
	}
	g.sessions.attach(sessionKey, clientID, user)

	log.Printf("[INFO] Client %s connected as user %s", clientID, user.Username)
	return Success
}

// AuthorizeSubscribe decides whether the connection identified by
// clientID may subscribe with the given topic filter.
func (g *Gateway) AuthorizeSubscribe(ctx context.Context, clientID, filter string) bool {
	allowed := g.authorize(ctx, clientID, filter, 0, Subscribe)
	if allowed {
		metrics.AuthorizationsTotal.WithLabelValues(Subscribe.String(), "allow").Inc()
		log.Printf("[INFO] New subscription: client %s, filter %s", clientID, filter)
	} else {
		metrics.AuthorizationsTotal.WithLabelValues(Subscribe.String(), "deny").Inc()
		log.Printf("[WARN] Subscription denied: client %s, filter %s", clientID, filter)
	}
	return allowed
}

// AuthorizePublish decides whether the connection identified by
// clientID may publish payloadSize bytes to the given topic. The
// monthly byte quota is charged and checked before any claim lookup.
func (g *Gateway) AuthorizePublish(ctx context.Context, clientID, topic string, payloadSize int64) bool {
	allowed := g.authorize(ctx, clientID, topic, payloadSize, Publish)
	if allowed {
		metrics.AuthorizationsTotal.WithLabelValues(Publish.String(), "allow").Inc()
	} else {
		metrics.AuthorizationsTotal.WithLabelValues(Publish.String(), "deny").Inc()
		log.Printf("[WARN] Publish denied: client %s, topic %s", clientID, topic)
	}
	return allowed
}

// Disconnect releases the connection's client id and its session
// attachment. Shared prefix attachments survive while other live
// connections still reference them.
func (g *Gateway) Disconnect(clientID string) {
	g.connected.remove(clientID)
	g.sessions.detach(clientID)
	log.Printf("[DEBUG] Client %s disconnected", clientID)
}

func (g *Gateway) authorize(ctx context.Context, clientID, topic string, payloadSize int64, op Operation) bool {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	user, err := g.resolveForOperation(ctx, clientID)
	if err != nil {
		log.Printf("[ERROR] Identity resolution failed for client %s (%s): %v", clientID, op, err)
		metrics.LookupErrorsTotal.Inc()
		return false
	}
	if user == nil {
		log.Printf("[WARN] No session for client %s, denying %s", clientID, op)
		return false
	}

	if op == Publish && user.ThrottleUser && user.MonthlyByteLimit != nil {
		if g.quota.ChargeAndCheck(clientID, payloadSize, *user.MonthlyByteLimit) {
			metrics.PublishesThrottledTotal.Inc()
			return false
		}
	}

	return g.evaluateClaims(ctx, user, topic, op)
}

// resolveForOperation maps a client id back to the user attached at
// connect time. The longest registered prefix that is a prefix of the
// client id selects the shared pool slot; otherwise the client id keys
// the attachment directly.
func (g *Gateway) resolveForOperation(ctx context.Context, clientID string) (*store.User, error) {
	prefixes, err := g.users.ListClientIDPrefixes(ctx)
	if err != nil {
		return nil, err
	}

	longest := ""
	for _, prefix := range prefixes {
		if strings.HasPrefix(clientID, prefix) && len(prefix) > len(longest) {
			longest = prefix
		}
	}

	if longest != "" {
		return g.sessions.lookup(longest), nil
	}
	return g.sessions.lookup(clientID), nil
}

// evaluateClaims runs the fixed decision ladder: exact blacklist hit
// denies, exact whitelist hit allows, then the blacklist patterns and
// the whitelist patterns are scanned in list order, and anything left
// is denied. An explicit deny always wins over an explicit allow, and
// exact string checks happen before any pattern scan.
func (g *Gateway) evaluateClaims(ctx context.Context, user *store.User, topic string, op Operation) bool {
	blacklistType, whitelistType := op.claimTypes()

	blacklistClaim, err := g.users.FindClaim(ctx, user.ID, blacklistType)
	if err != nil {
		log.Printf("[ERROR] Claim lookup %s failed for user %s: %v", blacklistType, user.Username, err)
		metrics.LookupErrorsTotal.Inc()
		return false
	}
	whitelistClaim, err := g.users.FindClaim(ctx, user.ID, whitelistType)
	if err != nil {
		log.Printf("[ERROR] Claim lookup %s failed for user %s: %v", whitelistType, user.Username, err)
		metrics.LookupErrorsTotal.Inc()
		return false
	}

	blacklist := blacklistClaim.TopicList()
	whitelist := whitelistClaim.TopicList()

	if containsTopic(blacklist, topic) {
		return false
	}
	if containsTopic(whitelist, topic) {
		return true
	}

	for _, forbidden := range blacklist {
		if topics.Match(forbidden, topic) {
			return false
		}
	}
	for _, allowed := range whitelist {
		if topics.Match(allowed, topic) {
			return true
		}
	}

	return false
}

func containsTopic(list []string, topic string) bool {
	for _, entry := range list {
		if entry == topic {
			return true
		}
	}
	return false
}

// bound applies the gateway's lookup timeout to a caller context.
func (g *Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.lookupTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.lookupTimeout)
}
