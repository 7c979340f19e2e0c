package handle

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"petition/api/internal/filter"
)

const (
	MinLength        = 2
	MaxLength        = 25
	MaxCommentLength = 280
)

var (
	ErrTooShort        = errors.New("handle too short")
	ErrOverflow        = errors.New("handle too long")
	ErrInvalidSyntax   = errors.New("handle must be alphanumeric")
	ErrCommentOverflow = errors.New("comment too long")
)

var syntax = regexp.MustCompile(`^@?[A-Za-z0-9_]+$`)

// DenylistError reports the denylisted term that blocked a submission.
type DenylistError struct {
	Term string
}

func (e *DenylistError) Error() string {
	return fmt.Sprintf("denylisted term %q", e.Term)
}

// Validate checks a raw handle and comment and returns the canonical handle.
//
// Checks run in a fixed order and the first failure wins: trimmed length below
// MinLength, above MaxLength, syntax, the keyword filter over
// handle + " " + comment, then comment length. Lengths are measured before the
// leading @ is added, so a 25 character handle canonicalizes to 26 characters.
func Validate(raw, comment string, gate *filter.Filter) (string, error) {
	trimmed := strings.TrimSpace(raw)
	length := utf8.RuneCountInString(trimmed)
	if length < MinLength {
		return "", ErrTooShort
	}
	if length > MaxLength {
		return "", ErrOverflow
	}
	if !syntax.MatchString(trimmed) {
		return "", ErrInvalidSyntax
	}
	if term, ok := gate.Match(trimmed + " " + strings.TrimSpace(comment)); ok {
		return "", &DenylistError{Term: term}
	}
	if utf8.RuneCountInString(strings.TrimSpace(comment)) > MaxCommentLength {
		return "", ErrCommentOverflow
	}
	return Normalize(trimmed), nil
}

// Normalize trims the handle and prefixes @ when it is missing.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "@") {
		return trimmed
	}
	return "@" + trimmed
}

// Bare strips the leading @, as used in profile URLs.
func Bare(handle string) string {
	return strings.Replace(handle, "@", "", 1)
}
