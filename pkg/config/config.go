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

// Package config provides configuration management for mqttgate,
// including the user store backend, seeded users and claims, and
// gateway settings.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/turtacn/mqttgate/pkg/auth"
	"github.com/turtacn/mqttgate/pkg/store"
)

// UserConfig seeds one user into the memory store backend. The
// password is given in clear and hashed with the configured algorithm
// at load time.
type UserConfig struct {
	Username         string       `yaml:"username" json:"username"`
	Password         string       `yaml:"password" json:"password"`
	Algorithm        string       `yaml:"algorithm" json:"algorithm"`
	ClientID         string       `yaml:"client_id" json:"client_id"`
	ClientIDPrefix   string       `yaml:"client_id_prefix" json:"client_id_prefix"`
	ValidateClientID bool         `yaml:"validate_client_id" json:"validate_client_id"`
	ThrottleUser     bool         `yaml:"throttle_user" json:"throttle_user"`
	MonthlyByteLimit *int64       `yaml:"monthly_byte_limit" json:"monthly_byte_limit"`
	Claims           ClaimsConfig `yaml:"claims" json:"claims"`
}

// ClaimsConfig seeds the four topic rule sets of a user.
type ClaimsConfig struct {
	SubscriptionBlacklist []string `yaml:"subscription_blacklist" json:"subscription_blacklist"`
	SubscriptionWhitelist []string `yaml:"subscription_whitelist" json:"subscription_whitelist"`
	PublishBlacklist      []string `yaml:"publish_blacklist" json:"publish_blacklist"`
	PublishWhitelist      []string `yaml:"publish_whitelist" json:"publish_whitelist"`
}

// StoreConfig selects and configures the user store backend.
type StoreConfig struct {
	// Backend is "memory", "sqlite3" or "postgres".
	Backend string          `yaml:"backend" json:"backend"`
	SQL     store.SQLConfig `yaml:"sql" json:"sql"`
	Users   []UserConfig    `yaml:"users" json:"users"`
}

// GatewayConfig represents the overall gateway configuration.
type GatewayConfig struct {
	MQTTAddr    string `yaml:"mqtt_addr" json:"mqtt_addr"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// LookupTimeout bounds identity and claim lookups.
	LookupTimeout time.Duration `yaml:"lookup_timeout" json:"lookup_timeout"`
	// QuotaTimezone is the IANA timezone name in which monthly quota
	// periods end; empty means the process-local timezone.
	QuotaTimezone string      `yaml:"quota_timezone" json:"quota_timezone"`
	Store         StoreConfig `yaml:"store" json:"store"`
}

// Config holds the complete configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`
}

// DefaultConfig returns a default configuration with a single seeded
// test user on the memory backend.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			MQTTAddr:      ":1883",
			MetricsAddr:   ":8082",
			LookupTimeout: 5 * time.Second,
			Store: StoreConfig{
				Backend: "memory",
				Users: []UserConfig{
					{
						Username:  "test",
						Password:  "test",
						Algorithm: "plain",
						Claims: ClaimsConfig{
							SubscriptionWhitelist: []string{"#"},
							PublishWhitelist:      []string{"#"},
						},
					},
				},
			},
		},
	}
}

// LoadConfig loads configuration from a file.
func LoadConfig(configPath string) (*Config, error) {
	// If no config file specified, return default config
	if configPath == "" {
		log.Println("[INFO] No config file specified, using default configuration")
		return DefaultConfig(), nil
	}

	// Read config file
	data, err := ioutil.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Printf("[INFO] Configuration loaded from %s", configPath)
	return config, nil
}

// SaveConfig saves configuration to a file.
func SaveConfig(config *Config, configPath string) error {
	var data []byte
	var err error

	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = ioutil.WriteFile(configPath, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	log.Printf("[INFO] Configuration saved to %s", configPath)
	return nil
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Gateway.MQTTAddr == "" {
		return fmt.Errorf("mqtt_addr cannot be empty")
	}

	switch config.Gateway.Store.Backend {
	case "memory":
	case "sqlite3", "postgres":
		if config.Gateway.Store.SQL.DSN == "" {
			return fmt.Errorf("store backend %s requires a dsn", config.Gateway.Store.Backend)
		}
	default:
		return fmt.Errorf("unsupported store backend: %s (supported: memory, sqlite3, postgres)", config.Gateway.Store.Backend)
	}

	if config.Gateway.QuotaTimezone != "" {
		if _, err := time.LoadLocation(config.Gateway.QuotaTimezone); err != nil {
			return fmt.Errorf("invalid quota_timezone: %w", err)
		}
	}

	// Validate seeded users
	usernames := make(map[string]bool)
	for i, user := range config.Gateway.Store.Users {
		if user.Username == "" {
			return fmt.Errorf("user %d: username cannot be empty", i)
		}

		if usernames[user.Username] {
			return fmt.Errorf("duplicate username: %s", user.Username)
		}
		usernames[user.Username] = true

		if user.Password == "" {
			return fmt.Errorf("user %s: password cannot be empty", user.Username)
		}

		// Validate algorithm
		switch user.Algorithm {
		case "plain", "sha256", "bcrypt":
			// Valid algorithms
		default:
			return fmt.Errorf("user %s: unsupported algorithm: %s (supported: plain, sha256, bcrypt)", user.Username, user.Algorithm)
		}
	}

	return nil
}

// SeedMemStore builds an in-memory user store from the seeded users.
func (c *Config) SeedMemStore() (*store.MemStore, error) {
	mem := store.NewMemStore()

	for _, userConfig := range c.Gateway.Store.Users {
		algorithm := auth.HashAlgorithm(userConfig.Algorithm)

		// Salt the SHA256 hashes with the username, matching the
		// verifier's expectation.
		salt := ""
		if algorithm == auth.HashSHA256 {
			salt = userConfig.Username
		}

		passwordHash, err := auth.HashPassword(userConfig.Password, salt, algorithm)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password for user %s: %w", userConfig.Username, err)
		}

		user := mem.AddUser(&store.User{
			Username:         userConfig.Username,
			PasswordHash:     passwordHash,
			Algorithm:        algorithm,
			Salt:             salt,
			ClientID:         userConfig.ClientID,
			ClientIDPrefix:   userConfig.ClientIDPrefix,
			ValidateClientID: userConfig.ValidateClientID,
			ThrottleUser:     userConfig.ThrottleUser,
			MonthlyByteLimit: userConfig.MonthlyByteLimit,
		})

		claims := map[store.ClaimType][]string{
			store.ClaimSubscriptionBlacklist: userConfig.Claims.SubscriptionBlacklist,
			store.ClaimSubscriptionWhitelist: userConfig.Claims.SubscriptionWhitelist,
			store.ClaimPublishBlacklist:      userConfig.Claims.PublishBlacklist,
			store.ClaimPublishWhitelist:      userConfig.Claims.PublishWhitelist,
		}
		for claimType, topicList := range claims {
			if len(topicList) == 0 {
				continue
			}
			value, err := store.EncodeTopicList(topicList)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s for user %s: %w", claimType, userConfig.Username, err)
			}
			mem.SetClaim(user.ID, claimType, value)
		}

		log.Printf("[INFO] Seeded user: %s (algorithm: %s)", userConfig.Username, userConfig.Algorithm)
	}

	log.Printf("[INFO] Memory store seeded with %d users", len(c.Gateway.Store.Users))
	return mem, nil
}

// QuotaLocation resolves the configured quota timezone; validateConfig
// has already checked it parses.
func (c *Config) QuotaLocation() *time.Location {
	if c.Gateway.QuotaTimezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Gateway.QuotaTimezone)
	if err != nil {
		log.Printf("[WARN] Invalid quota timezone %s, falling back to local: %v", c.Gateway.QuotaTimezone, err)
		return time.Local
	}
	return loc
}
