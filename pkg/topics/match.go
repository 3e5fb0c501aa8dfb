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

// Package topics implements MQTT topic filter matching with wildcard
// support. It is used on the hot path of every subscribe and publish
// authorization decision, so matching is a single linear scan over the
// slash-delimited segments rather than a compiled regular expression.
package topics

import "strings"

// Match reports whether a concrete topic matches a subscription filter.
// It implements the MQTT 3.1.1 wildcard rules: a filter segment "+"
// matches exactly one topic segment of any content, and a trailing "#"
// matches the remainder of the topic (zero or more segments). All other
// segments are compared with case-sensitive string equality.
func Match(filter, topic string) bool {
	filterSegments := strings.Split(filter, "/")
	topicSegments := strings.Split(topic, "/")

	filterLen := len(filterSegments)
	topicLen := len(topicSegments)

	for i := 0; i < filterLen; i++ {
		if i >= topicLen {
			// The filter is longer than the topic. Only a trailing '#'
			// absorbs the difference ("a/#" matches "a").
			return filterSegments[i] == "#" && i == filterLen-1
		}

		segment := filterSegments[i]

		if segment == "#" {
			// '#' is only legal as the final filter segment.
			return i == filterLen-1
		}

		if segment != "+" && segment != topicSegments[i] {
			return false
		}
	}

	// The filter ran out without a '#'; the topic must be the same length.
	return topicLen == filterLen
}
