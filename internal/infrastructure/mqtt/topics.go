package mqtt

import (
	"fmt"
	"strings"
)

// ValidatePublishTopic checks that topic is a concrete MQTT topic name.
//
// Publish topics must be non-empty, must not contain the wildcard
// characters '+' or '#', and must not contain a NUL byte.
func ValidatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#\x00") {
		return fmt.Errorf("%w: %q contains a wildcard or NUL", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks that filter is a well-formed MQTT subscription filter.
//
// '+' must occupy a whole level and '#' must occupy the whole last level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsRune(filter, '\x00') {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidTopic, filter)
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: wildcard must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// Match reports whether topic matches the subscription filter.
func Match(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
