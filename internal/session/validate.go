package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidName is wrapped by ValidateName failures.
var ErrInvalidName = errors.New("invalid session name")

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// reserved names collide with entries under the sessions directory or with
// CLI subcommands.
var reserved = map[string]bool{
	"list":   true,
	"config": true,
}

// ValidateName checks that name can be used as a session directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidName, name, nameRegexp)
	}
	if reserved[name] {
		return fmt.Errorf("%w %q: reserved", ErrInvalidName, name)
	}
	return nil
}

// NameForUser derives a session name from a Wire user id. Qualified ids
// ("uuid@domain") keep only the local part.
func NameForUser(userID string) (string, error) {
	id, _, _ := strings.Cut(strings.TrimSpace(userID), "@")
	name := strings.ToLower(id)
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
