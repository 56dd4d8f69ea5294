package entity

import (
	"fmt"
	"regexp"
)

var tagNumberPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,20}$`)

// ValidateTagNumbers enforces the tag list constraints: at most
// MaxTagNumbers entries, each alphanumeric-plus-dash of up to 20 characters,
// no duplicates.
func ValidateTagNumbers(tags []string) error {
	if len(tags) > MaxTagNumbers {
		return fmt.Errorf("at most %d tag numbers allowed", MaxTagNumbers)
	}
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if !tagNumberPattern.MatchString(tag) {
			return fmt.Errorf("invalid tag number %q", tag)
		}
		if _, dup := seen[tag]; dup {
			return fmt.Errorf("duplicate tag number %q", tag)
		}
		seen[tag] = struct{}{}
	}
	return nil
}
