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
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/turtacn/mqttgate/pkg/auth"
)

// User is a gateway user record. Records are owned by the external user
// store and are treated as read-only by the gateway.
type User struct {
	ID           int64              `json:"id" yaml:"id"`
	Username     string             `json:"username" yaml:"username"`
	PasswordHash string             `json:"password_hash" yaml:"password_hash"`
	Algorithm    auth.HashAlgorithm `json:"algorithm" yaml:"algorithm"`
	Salt         string             `json:"salt,omitempty" yaml:"salt,omitempty"`

	// ClientID is an optional exact client identifier binding.
	ClientID string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	// ClientIDPrefix is an optional prefix binding. When set, any client
	// id starting with this prefix authenticates as this user and the
	// prefix takes precedence over the exact ClientID binding.
	ClientIDPrefix string `json:"client_id_prefix,omitempty" yaml:"client_id_prefix,omitempty"`
	// ValidateClientID disables both bindings when false: any client id
	// is accepted once the credentials check out.
	ValidateClientID bool `json:"validate_client_id" yaml:"validate_client_id"`

	ThrottleUser     bool   `json:"throttle_user" yaml:"throttle_user"`
	MonthlyByteLimit *int64 `json:"monthly_byte_limit,omitempty" yaml:"monthly_byte_limit,omitempty"`

	CreatedAt time.Time  `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// ClaimType identifies one of the four per-user topic rule sets. It is
// a closed enum; the string form exists only for the store boundary,
// where rows carry the type as text.
type ClaimType int

const (
	// ClaimSubscriptionBlacklist lists topic filters a user may not subscribe to.
	ClaimSubscriptionBlacklist ClaimType = iota
	// ClaimSubscriptionWhitelist lists topic filters a user may subscribe to.
	ClaimSubscriptionWhitelist
	// ClaimPublishBlacklist lists topic filters a user may not publish to.
	ClaimPublishBlacklist
	// ClaimPublishWhitelist lists topic filters a user may publish to.
	ClaimPublishWhitelist
)

// String returns the stored text form of the claim type.
func (ct ClaimType) String() string {
	switch ct {
	case ClaimSubscriptionBlacklist:
		return "SubscriptionBlacklist"
	case ClaimSubscriptionWhitelist:
		return "SubscriptionWhitelist"
	case ClaimPublishBlacklist:
		return "PublishBlacklist"
	case ClaimPublishWhitelist:
		return "PublishWhitelist"
	default:
		return "unknown"
	}
}

// ParseClaimType converts the stored text form back into a ClaimType.
// It is only used when reading rows from a SQL backend.
func ParseClaimType(s string) (ClaimType, error) {
	switch s {
	case "SubscriptionBlacklist":
		return ClaimSubscriptionBlacklist, nil
	case "SubscriptionWhitelist":
		return ClaimSubscriptionWhitelist, nil
	case "PublishBlacklist":
		return ClaimPublishBlacklist, nil
	case "PublishWhitelist":
		return ClaimPublishWhitelist, nil
	default:
		return 0, fmt.Errorf("unknown claim type: %q", s)
	}
}

// UserClaim is one topic rule set attached to a user. At most one claim
// exists per (user, type) pair; an absent claim means an empty list.
type UserClaim struct {
	UserID int64     `json:"user_id" yaml:"user_id"`
	Type   ClaimType `json:"type" yaml:"type"`
	// Value holds the rule set as a JSON-serialized list of topic
	// filter strings, the format the user administration writes.
	Value string `json:"value" yaml:"value"`
}

// TopicList decodes the claim value into its ordered list of topic
// filters. A malformed value is treated as an empty rule list and
// logged, never surfaced as an error.
func (c *UserClaim) TopicList() []string {
	if c == nil || c.Value == "" {
		return nil
	}
	var topics []string
	if err := json.Unmarshal([]byte(c.Value), &topics); err != nil {
		log.Printf("[WARN] Malformed claim value for user %d (%s), treating as empty: %v", c.UserID, c.Type, err)
		return nil
	}
	return topics
}

// EncodeTopicList serializes a list of topic filters into the stored
// claim value format.
func EncodeTopicList(topics []string) (string, error) {
	data, err := json.Marshal(topics)
	if err != nil {
		return "", fmt.Errorf("failed to encode topic list: %w", err)
	}
	return string(data), nil
}
