// Package envfile parses and serializes line-oriented NAME=VALUE files.
//
// Parsing is lenient: every line containing '=' yields a pair, duplicates
// included, and lookups return the first match. Rebuilding a file from pairs
// drops blank lines and anything that is not a pair; Document keeps the raw
// lines for edits that must leave the rest of the file untouched.
package envfile

import (
	"sort"
	"strings"
)

// Pair is one NAME=VALUE assignment.
type Pair struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// ParseLine splits a line at its first '='. Values may themselves contain '='.
// Blank lines and lines without '=' report ok=false.
func ParseLine(line string) (name, value string, ok bool) {
	if strings.TrimSpace(line) == "" {
		return "", "", false
	}
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], line[idx+1:], true
}

// SerializeLine renders name and value as a single line. No escaping is done.
func SerializeLine(name, value string) string {
	return name + "=" + value
}

// ParseFile returns the pairs of contents in line order.
func ParseFile(contents string) []Pair {
	lines := strings.Split(contents, "\n")
	pairs := make([]Pair, 0, len(lines))
	for _, line := range lines {
		if name, value, ok := ParseLine(strings.TrimSuffix(line, "\r")); ok {
			pairs = append(pairs, Pair{Name: name, Value: value})
		}
	}
	return pairs
}

// Serialize renders pairs one per line, joined with '\n'.
func Serialize(pairs []Pair) string {
	lines := make([]string, len(pairs))
	for i, p := range pairs {
		lines[i] = SerializeLine(p.Name, p.Value)
	}
	return strings.Join(lines, "\n")
}

// ValidValue reports whether value can be stored on a single line.
func ValidValue(value string) bool {
	return !strings.ContainsAny(value, "\n\r")
}

// ValidName reports whether name can be written as the left side of a pair.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "=\n\r")
}

// UniqueNames returns the distinct names in pairs, sorted.
func UniqueNames(pairs []Pair) []string {
	seen := make(map[string]struct{}, len(pairs))
	names := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}
