package validation

import (
	"fmt"
	"regexp"
)

// MaxLabelLength is the maximum length of an ext4 volume label
const MaxLabelLength = 16

// labelPattern matches labels that are safe to pass to mkfs and to match
// against inventory output: alphanumeric start, followed by alphanumeric,
// underscore, dot, or hyphen
var labelPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateLabel validates that a filesystem label meets all requirements:
// - Non-empty, at most 16 characters (the ext4 volume label limit)
// - Alphanumeric start, alphanumeric/underscore/dot/hyphen continuation
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label must not be empty")
	}

	if len(label) > MaxLabelLength {
		return fmt.Errorf("label must be at most %d characters", MaxLabelLength)
	}

	if !labelPattern.MatchString(label) {
		return fmt.Errorf("label must start with alphanumeric and contain only alphanumeric, underscore, dot, or hyphen characters")
	}

	return nil
}
