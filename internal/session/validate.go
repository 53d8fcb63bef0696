package session

import (
	"regexp"
	"strings"
	"unicode"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validUsername(username string) bool {
	return len(strings.TrimSpace(username)) >= 3
}

func validEmail(email string) bool {
	return email != "" && emailPattern.MatchString(email)
}

// validPassword requires at least 8 characters with at least one letter and
// one digit.
func validPassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}
