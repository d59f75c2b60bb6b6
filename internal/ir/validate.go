package ir

import "regexp"

var (
	chainIDPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)
	eventTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,63}$`)
)

// ValidChainID reports whether s is an acceptable chain (tenant scope) id.
func ValidChainID(s string) bool {
	return chainIDPattern.MatchString(s)
}

// ValidEventType reports whether s is an UPPER_SNAKE event type name.
func ValidEventType(s string) bool {
	return eventTypePattern.MatchString(s)
}
