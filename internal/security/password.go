// Package security carries the authenticated principal through request and
// background contexts, hashes passwords, issues API tokens and answers the
// permission questions the services ask before touching the store.
package security

import (
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/nishad/seqlims/internal/errors"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// HashPassword returns the bcrypt hash of password. A cost outside bcrypt's
// range uses the default cost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", errors.E(errors.Op("security.HashPassword"), errors.KindValidation, err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword enforces the password policy: at least
// MinPasswordLength characters with an upper case letter, a lower case
// letter, a digit and a symbol.
func ValidatePassword(password string) error {
	const op errors.Op = "security.ValidatePassword"

	var problems []string
	if len([]rune(password)) < MinPasswordLength {
		problems = append(problems, "must be at least 8 characters")
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !upper {
		problems = append(problems, "needs an upper case letter")
	}
	if !lower {
		problems = append(problems, "needs a lower case letter")
	}
	if !digit {
		problems = append(problems, "needs a digit")
	}
	if !symbol {
		problems = append(problems, "needs a symbol")
	}
	if len(problems) > 0 {
		return errors.E(op, errors.KindInvalidProperty, "password "+strings.Join(problems, ", "))
	}
	return nil
}
