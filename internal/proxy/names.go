package proxy

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MinNameLength is the shortest display name a webhook will accept.
const MinNameLength = 2

var (
	ErrNameTooShort = errors.New("display name too short")
	ErrNameTooLong  = errors.New("display name too long")
)

// ValidateName enforces display-name length bounds for the resolved webhook
// username. Violations are user-facing errors, not silent filters: a bad name
// means a misconfigured persona the owner should fix.
func ValidateName(name string, maxLength int) error {
	n := utf8.RuneCountInString(name)
	if n < MinNameLength {
		return fmt.Errorf("%w: %q is %d characters, minimum is %d", ErrNameTooShort, name, n, MinNameLength)
	}
	if n > maxLength {
		return fmt.Errorf("%w: %q is %d characters, maximum is %d", ErrNameTooLong, name, n, maxLength)
	}
	return nil
}
