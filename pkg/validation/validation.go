package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxIDLength    = 100
	maxTitleLength = 200
	maxCapacity    = 10000
)

// IDRegex matches identifiers accepted in URL paths: stream, participant and
// recording ids.
var IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", kind, maxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", kind)
	}
	return nil
}

func ValidateStreamID(streamID string) error {
	return ValidateID("stream ID", streamID)
}

// ValidateTitle accepts an empty title; a stream may be scheduled untitled.
func ValidateTitle(title string) error {
	if !utf8.ValidString(title) {
		return fmt.Errorf("title contains invalid characters")
	}
	if utf8.RuneCountInString(strings.TrimSpace(title)) > maxTitleLength {
		return fmt.Errorf("title is too long (max %d characters)", maxTitleLength)
	}
	return nil
}

// ValidateCapacity accepts zero, meaning the configured default.
func ValidateCapacity(capacity int) error {
	if capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}
	if capacity > maxCapacity {
		return fmt.Errorf("capacity is too high (max %d)", maxCapacity)
	}
	return nil
}
