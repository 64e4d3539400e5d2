// Package fuzzy decides whether two env values are the same logical value.
//
// Bulk updates use a Matcher to pick every variable, in every service, whose
// current value should be replaced. Exact compares bytes. URI treats
// connection strings as equal when they differ only in whether an embedded
// user:pass@ segment is present.
package fuzzy

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher reports whether current should be treated as equal to pattern.
type Matcher interface {
	Match(current, pattern string) bool
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(current, pattern string) bool

// Match calls f(current, pattern).
func (f MatcherFunc) Match(current, pattern string) bool {
	return f(current, pattern)
}

// Mode names a matching policy selectable from the command line.
type Mode string

const (
	ModeExact Mode = "exact"
	ModeFuzzy Mode = "fuzzy"
)

// Exact matches identical strings only.
var Exact Matcher = MatcherFunc(func(current, pattern string) bool {
	return current == pattern
})

// URI is the connection-string matcher.
var URI Matcher = MatcherFunc(Matches)

// ForMode returns the matcher for mode.
func ForMode(mode Mode) (Matcher, error) {
	switch mode {
	case ModeExact, "":
		return Exact, nil
	case ModeFuzzy:
		return URI, nil
	default:
		return nil, fmt.Errorf("unknown match mode %q", mode)
	}
}

// credentialPattern captures the user:pass segment between "//" and '@'.
// The segment may not contain '/', so an '@' in a path or query is ignored.
var credentialPattern = regexp.MustCompile(`//([^/@]+)@`)

// Credentials is the user:pass segment embedded in a connection string.
type Credentials struct {
	User     string
	Password string
}

// String renders the segment for display with the password masked.
func (c Credentials) String() string {
	if c.Password == "" {
		return c.User
	}
	return c.User + ":****"
}

// ExtractCredentials returns the credential segment of value. ok is false
// when value has none, which is not an error.
func ExtractCredentials(value string) (Credentials, bool) {
	m := credentialPattern.FindStringSubmatch(value)
	if m == nil {
		return Credentials{}, false
	}
	user, pass, _ := strings.Cut(m[1], ":")
	return Credentials{User: user, Password: pass}, true
}

// StripCredentials replaces the credential segment of value with "//".
func StripCredentials(value string) string {
	loc := credentialPattern.FindStringIndex(value)
	if loc == nil {
		return value
	}
	return value[:loc[0]] + "//" + value[loc[1]:]
}

// Matches implements the connection-string policy. When both values carry
// credentials, users and passwords must be equal. When only one side does,
// credentials are not compared. In every case the values with credentials
// stripped (scheme, host, path and query) must be identical.
func Matches(value1, value2 string) bool {
	c1, ok1 := ExtractCredentials(value1)
	c2, ok2 := ExtractCredentials(value2)

	if ok1 && ok2 {
		if c1.User != c2.User {
			return false
		}
		if c1.Password != c2.Password {
			return false
		}
	}

	return StripCredentials(value1) == StripCredentials(value2)
}
