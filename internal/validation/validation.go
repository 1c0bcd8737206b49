package validation

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MinNameLength is the minimum length for a volume name
	MinNameLength = 2
	// MaxNameLength is the maximum length for a volume name
	MaxNameLength = 65
)

// dockerNamePattern matches Docker's naming requirements:
// Must start with alphanumeric, followed by alphanumeric, underscore, dot, or hyphen
// See: https://github.com/moby/moby/blob/master/daemon/names/names.go
var dockerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// segmentPattern matches a single component of a ZFS dataset name. Each
// segment must start with an ASCII alphanumeric and may continue with
// alphanumerics, underscore, dot, hyphen, or colon.
//
// This is deliberately narrower than what ZFS itself accepts. Dataset names
// end up as arguments to privileged commands, so the allowed set exists to
// make shell or argument injection impossible, not to mirror the ZFS naming
// grammar. Do not widen it without re-auditing injection safety.
var segmentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]*$`)

// ValidateVolumeName validates that a volume name meets all requirements:
// - Matches Docker naming pattern (alphanumeric start, alphanumeric/underscore/dot/hyphen continuation)
// - Between 2 and 65 characters
func ValidateVolumeName(name string) error {
	if len(name) < MinNameLength {
		return fmt.Errorf("volume name must be at least %d characters", MinNameLength)
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("volume name must be at most %d characters", MaxNameLength)
	}

	if !dockerNamePattern.MatchString(name) {
		return fmt.Errorf("volume name must start with alphanumeric and contain only alphanumeric, underscore, dot, or hyphen characters")
	}

	return nil
}

// ValidateDatasetName validates a full ZFS dataset name ("pool/some/dataset")
// and returns the trimmed form that is safe to place on a command line.
// Leading and trailing whitespace around the whole name is tolerated;
// anything else outside the allowed set is rejected.
func ValidateDatasetName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("dataset name is empty")
	}

	for _, segment := range strings.Split(name, "/") {
		if segment == "" {
			return "", fmt.Errorf("dataset name %q contains an empty component", name)
		}
		if !segmentPattern.MatchString(segment) {
			return "", fmt.Errorf("dataset name %q contains invalid component %q", name, segment)
		}
	}

	return name, nil
}
