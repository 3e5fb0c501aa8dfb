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

package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchLiteral(t *testing.T) {
	testCases := []struct {
		name     string
		filter   string
		topic    string
		expected bool
	}{
		{"exact single segment", "a", "a", true},
		{"exact multi segment", "a/b/c", "a/b/c", true},
		{"case sensitive", "a/B/c", "a/b/c", false},
		{"different segment", "a/b/c", "a/x/c", false},
		{"filter longer than topic", "a/b/c", "a/b", false},
		{"filter shorter than topic", "a/b", "a/b/c", false},
		{"empty segments are literal", "a//c", "a//c", true},
		{"empty filter empty topic", "", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Match(tc.filter, tc.topic))
		})
	}
}

func TestMatchSingleLevelWildcard(t *testing.T) {
	testCases := []struct {
		name     string
		filter   string
		topic    string
		expected bool
	}{
		{"plus in middle", "a/+/c", "a/b/c", true},
		{"plus matches empty segment", "a/+/c", "a//c", true},
		{"plus matches one level only", "a/+/c", "a/b/b/c", false},
		{"multiple plus", "+/+/+", "a/b/c", true},
		{"multiple plus too short", "+/+/+", "a/b", false},
		{"multiple plus no operators", "a/+/+/a", "a/b/b/a", true},
		{"leading plus", "+/b", "a/b", true},
		{"trailing plus", "a/+", "a/b", true},
		{"trailing plus missing level", "a/+", "a", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Match(tc.filter, tc.topic))
		})
	}
}

func TestMatchMultiLevelWildcard(t *testing.T) {
	testCases := []struct {
		name     string
		filter   string
		topic    string
		expected bool
	}{
		{"hash absorbs parent level", "a/#", "a", true},
		{"hash absorbs one level", "a/#", "a/b", true},
		{"hash absorbs many levels", "a/#", "a/b/c", true},
		{"hash does not match sibling", "a/#", "b", false},
		{"bare hash matches everything", "#", "a/b/c", true},
		{"plus then hash", "a/+/#", "a/b/c/d", true},
		{"plus then hash too short", "a/+/#", "a", false},
		{"hash not last segment is literal-invalid", "a/#/c", "a/b/c", false},
		{"topic containing wildcard chars is literal", "a/#", "a/+/a", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Match(tc.filter, tc.topic))
		})
	}
}
