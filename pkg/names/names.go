// Package names validates and normalizes worker and team names before they
// are interpolated into tmux invocations or used as filename stems. It is the
// sole injection defense on that path, so invalid input is rejected outright.
package names

import (
	"fmt"
	"strings"
)

const (
	// maxSanitizedLen caps each sanitized part.
	maxSanitizedLen = 50
	// minSanitizedLen is the minimum number of surviving characters.
	minSanitizedLen = 2

	// SessionPrefix is the fixed prefix for supervised tmux session names.
	SessionPrefix = "tb"
)

// Sanitize strips every character outside letters, digits, and hyphen from
// raw, preserving case and order, and truncates the result to 50 characters.
// Truncation happens before the emptiness and minimum-length checks.
func Sanitize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if isSafe(r) {
			b.WriteRune(r)
		}
	}

	s := b.String()
	if len(s) > maxSanitizedLen {
		s = s[:maxSanitizedLen]
	}

	if s == "" {
		return "", fmt.Errorf("name %q contains no valid characters", raw)
	}
	if len(s) < minSanitizedLen {
		return "", fmt.Errorf("name %q is too short after sanitization (minimum %d characters)", raw, minSanitizedLen)
	}

	return s, nil
}

// SessionName composes the tmux session name for a worker: each part is
// sanitized independently, then joined under the fixed prefix.
func SessionName(team, worker string) (string, error) {
	safeTeam, err := Sanitize(team)
	if err != nil {
		return "", fmt.Errorf("invalid team name: %w", err)
	}
	safeWorker, err := Sanitize(worker)
	if err != nil {
		return "", fmt.Errorf("invalid worker name: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", SessionPrefix, safeTeam, safeWorker), nil
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-':
		return true
	}
	return false
}
