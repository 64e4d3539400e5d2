package envfile

import "strings"

// Document is an env file held as raw lines. Edits replace a single line and
// leave every other line, including comments and blanks, byte-identical.
type Document struct {
	lines []string
}

// Parse wraps contents in a Document.
func Parse(contents string) *Document {
	return &Document{lines: strings.Split(contents, "\n")}
}

// Lookup returns the value of the first line assigning name.
func (d *Document) Lookup(name string) (string, bool) {
	idx := d.indexOf(name)
	if idx < 0 {
		return "", false
	}
	_, value, _ := parseRaw(d.lines[idx])
	return value, true
}

// Set rewrites the first line assigning name. It reports false, and changes
// nothing, when name is not present.
func (d *Document) Set(name, value string) bool {
	idx := d.indexOf(name)
	if idx < 0 {
		return false
	}
	d.lines[idx] = rewrite(d.lines[idx], name, value)
	return true
}

// SetLine rewrites the pair on line idx as returned by Lines. It reports false
// when that line does not hold a pair.
func (d *Document) SetLine(idx int, value string) bool {
	if idx < 0 || idx >= len(d.lines) {
		return false
	}
	name, _, ok := parseRaw(d.lines[idx])
	if !ok {
		return false
	}
	d.lines[idx] = rewrite(d.lines[idx], name, value)
	return true
}

// Line is a pair together with its position in the document.
type Line struct {
	Index int
	Pair
}

// Lines returns every pair in the document with its line index.
func (d *Document) Lines() []Line {
	out := make([]Line, 0, len(d.lines))
	for i, raw := range d.lines {
		if name, value, ok := parseRaw(raw); ok {
			out = append(out, Line{Index: i, Pair: Pair{Name: name, Value: value}})
		}
	}
	return out
}

// Pairs returns every pair in line order.
func (d *Document) Pairs() []Pair {
	lines := d.Lines()
	pairs := make([]Pair, len(lines))
	for i, l := range lines {
		pairs[i] = l.Pair
	}
	return pairs
}

// Names returns the distinct variable names, sorted.
func (d *Document) Names() []string {
	return UniqueNames(d.Pairs())
}

// String renders the document back to text.
func (d *Document) String() string {
	return strings.Join(d.lines, "\n")
}

func (d *Document) indexOf(name string) int {
	for i, raw := range d.lines {
		if n, _, ok := parseRaw(raw); ok && n == name {
			return i
		}
	}
	return -1
}

// parseRaw parses a raw line, ignoring a trailing carriage return.
func parseRaw(raw string) (string, string, bool) {
	return ParseLine(strings.TrimSuffix(raw, "\r"))
}

// rewrite renders a replacement for raw, keeping its line ending style.
func rewrite(raw, name, value string) string {
	line := SerializeLine(name, value)
	if strings.HasSuffix(raw, "\r") {
		line += "\r"
	}
	return line
}
