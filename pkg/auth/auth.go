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

// Package auth provides password verification for MQTT clients. Stored
// credentials carry a configurable hashing algorithm: plain text,
// salted SHA256, or bcrypt.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashAlgorithm defines the password hashing algorithm type.
type HashAlgorithm string

const (
	// HashPlain represents plain text passwords (not recommended for production)
	HashPlain HashAlgorithm = "plain"
	// HashSHA256 represents salted SHA256 hashed passwords
	HashSHA256 HashAlgorithm = "sha256"
	// HashBcrypt represents bcrypt hashed passwords (recommended)
	HashBcrypt HashAlgorithm = "bcrypt"
)

// VerifyResult represents the outcome of a password verification.
type VerifyResult int

const (
	// VerifySuccess indicates the candidate password matches the stored hash.
	VerifySuccess VerifyResult = iota
	// VerifyFailed indicates the candidate password does not match.
	VerifyFailed
)

// String returns the string representation of VerifyResult.
func (vr VerifyResult) String() string {
	switch vr {
	case VerifySuccess:
		return "success"
	case VerifyFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Verifier checks a candidate password against a stored hash. The
// gateway depends on this interface only, so tests can swap in a stub.
type Verifier interface {
	Verify(storedHash, candidate, salt string, algorithm HashAlgorithm) VerifyResult
}

// NewVerifier returns the default multi-algorithm Verifier.
func NewVerifier() Verifier {
	return hashVerifier{}
}

type hashVerifier struct{}

func (hashVerifier) Verify(storedHash, candidate, salt string, algorithm HashAlgorithm) VerifyResult {
	if storedHash == "" {
		return VerifyFailed
	}
	if verifyPassword(candidate, storedHash, salt, algorithm) {
		return VerifySuccess
	}
	return VerifyFailed
}

// HashPassword creates a hash of the password using the specified algorithm.
func HashPassword(password, salt string, algorithm HashAlgorithm) (string, error) {
	switch algorithm {
	case HashPlain:
		return password, nil
	case HashSHA256:
		hasher := sha256.New()
		hasher.Write([]byte(salt + password))
		return fmt.Sprintf("%x", hasher.Sum(nil)), nil
	case HashBcrypt:
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		return string(hash), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// verifyPassword verifies a password against a hash using the specified algorithm.
func verifyPassword(password, hash, salt string, algorithm HashAlgorithm) bool {
	switch algorithm {
	case HashPlain:
		return subtle.ConstantTimeCompare([]byte(password), []byte(hash)) == 1
	case HashSHA256:
		expectedHash, err := HashPassword(password, salt, HashSHA256)
		if err != nil {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(hash)) == 1
	case HashBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		return err == nil
	default:
		return false
	}
}
