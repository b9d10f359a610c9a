// Package credentials generates the username and temporary password handed
// to a newly converted customer.
package credentials

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

const (
	// PasswordLength is the fixed length of generated passwords:
	// 2 upper + 3 lower + 2 digits + 2 symbols
	PasswordLength = 9

	// PasswordSymbols is the fixed symbol pair every password contains
	PasswordSymbols = "@#"

	// DefaultFamilyName is used when the contact name is a single word
	DefaultFamilyName = "User"

	// minLocalPartLength is the shortest email local part used as-is
	minLocalPartLength = 3

	// minUsernameLength is the shortest name-derived username used
	// without a numeric suffix
	minUsernameLength = 4

	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	digitChars = "0123456789"
)

// Credential is the login handed to the customer. It is sent once in the
// welcome notification and never stored.
type Credential struct {
	Username          string
	TemporaryPassword string
	Email             string
	FullName          string
}

// String redacts the password
func (c Credential) String() string {
	return fmt.Sprintf("Credential{Username: %s, TemporaryPassword: [REDACTED], Email: %s, FullName: %s}",
		c.Username, c.Email, c.FullName)
}

// GoString redacts the password in %#v output
func (c Credential) GoString() string {
	return c.String()
}

// GenerateUsername derives a username from the contact's email and name.
//
// The email local part, reduced to lowercase alphanumerics, is used when it
// has at least three characters. Otherwise the name is used: first word plus
// the initial of the last word, or the single word. A result still shorter
// than four characters gets a random three-digit suffix.
func GenerateUsername(email, name string) (string, error) {
	local := email
	if at := strings.Index(email, "@"); at >= 0 {
		local = email[:at]
	}
	if candidate := sanitize(local); len(candidate) >= minLocalPartLength {
		return candidate, nil
	}

	candidate := usernameFromName(name)
	if candidate == "" {
		candidate = sanitize(local)
	}
	if candidate == "" {
		candidate = "user"
	}
	if len(candidate) >= minUsernameLength {
		return candidate, nil
	}

	n, err := randomInt(900)
	if err != nil {
		return "", fmt.Errorf("failed to generate username suffix: %w", err)
	}
	return fmt.Sprintf("%s%d", candidate, 100+n), nil
}

func usernameFromName(name string) string {
	words := strings.Fields(name)
	var cleaned []string
	for _, w := range words {
		if s := sanitize(w); s != "" {
			cleaned = append(cleaned, s)
		}
	}

	switch len(cleaned) {
	case 0:
		return ""
	case 1:
		return cleaned[0]
	default:
		return cleaned[0] + cleaned[len(cleaned)-1][:1]
	}
}

// sanitize keeps ASCII letters and digits and lowercases them
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// GeneratePassword returns a PasswordLength-character password with two
// uppercase letters, three lowercase letters, two digits and the symbols
// in PasswordSymbols, in random order.
func GeneratePassword() (string, error) {
	chars := make([]byte, 0, PasswordLength)

	for _, class := range []struct {
		alphabet string
		count    int
	}{
		{upperChars, 2},
		{lowerChars, 3},
		{digitChars, 2},
	} {
		for i := 0; i < class.count; i++ {
			n, err := randomInt(len(class.alphabet))
			if err != nil {
				return "", fmt.Errorf("failed to generate password: %w", err)
			}
			chars = append(chars, class.alphabet[n])
		}
	}
	chars = append(chars, PasswordSymbols...)

	// Fisher-Yates; only reorders, so every class stays present
	for i := len(chars) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", fmt.Errorf("failed to shuffle password: %w", err)
		}
		chars[i], chars[j] = chars[j], chars[i]
	}

	return string(chars), nil
}

// SplitName splits a full name into given and family name. The family name
// is DefaultFamilyName when the name has a single word.
func SplitName(fullName string) (given, family string) {
	words := strings.Fields(fullName)
	switch len(words) {
	case 0:
		return "", DefaultFamilyName
	case 1:
		return words[0], DefaultFamilyName
	default:
		return words[0], strings.Join(words[1:], " ")
	}
}

func randomInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
