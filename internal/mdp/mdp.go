package mdp

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Entry is one line of an .mdp document.
//
// Exactly one of the following holds:
//   - Key != "": a parameter line with one or more Values
//   - Comment != "" and Key == "": a full-line comment
//   - neither: a blank line
type Entry struct {
	Key     string
	Values  []string
	Comment string // trailing comment for parameter lines, body for comment lines
}

// IsBlank reports whether the entry is a blank line.
func (e Entry) IsBlank() bool {
	return e.Key == "" && e.Comment == ""
}

// Document is an ordered .mdp parameter set.
//
// Order is preserved across parse/write so rendered inputs stay diffable
// against their templates. Lookups are by key; duplicate keys keep their
// first occurrence for Get and are all visible via Entries.
type Document struct {
	entries []Entry
	index   map[string]int // key -> first entry position
}

// ParseError reports a malformed line with its 1-based position.
type ParseError struct {
	Line    int
	Content string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mdp: line %d: %s: %q", e.Line, e.Reason, e.Content)
}

// New returns an empty document.
func New() *Document {
	return &Document{index: make(map[string]int)}
}

// Parse reads an .mdp document.
//
// Every non-comment, non-blank line must split into a key and one or more
// whitespace-separated values around '='. A line whose first non-space
// character is ';' produces a comment entry, never a key-value entry.
func Parse(r io.Reader) (*Document, error) {
	doc := New()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			doc.entries = append(doc.entries, Entry{})
			continue
		case strings.HasPrefix(trimmed, ";"):
			doc.entries = append(doc.entries, Entry{
				Comment: strings.TrimSpace(strings.TrimPrefix(trimmed, ";")),
			})
			continue
		}

		// Split off a trailing comment before looking for the delimiter.
		body, comment := trimmed, ""
		if i := strings.Index(trimmed, ";"); i >= 0 {
			body = strings.TrimSpace(trimmed[:i])
			comment = strings.TrimSpace(trimmed[i+1:])
		}

		key, rest, ok := strings.Cut(body, "=")
		if !ok {
			return nil, &ParseError{Line: lineNo, Content: line, Reason: "missing '=' delimiter"}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, &ParseError{Line: lineNo, Content: line, Reason: "empty key"}
		}

		entry := Entry{
			Key:     key,
			Values:  strings.Fields(rest),
			Comment: comment,
		}
		if _, seen := doc.index[key]; !seen {
			doc.index[key] = len(doc.entries)
		}
		doc.entries = append(doc.entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mdp: read: %w", err)
	}
	return doc, nil
}

// ParseString parses an in-memory .mdp document.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Entries returns the document's lines in declaration order.
// The returned slice is a copy.
func (d *Document) Entries() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Len returns the number of parameter entries (comments and blanks excluded).
func (d *Document) Len() int {
	n := 0
	for _, e := range d.entries {
		if e.Key != "" {
			n++
		}
	}
	return n
}

// Has reports whether the key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.index[key]
	return ok
}

// Get returns the first value for key, or "" if absent.
func (d *Document) Get(key string) string {
	vals := d.Values(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Values returns all values for key in order, or nil if absent.
func (d *Document) Values(key string) []string {
	i, ok := d.index[key]
	if !ok {
		return nil
	}
	return append([]string(nil), d.entries[i].Values...)
}

// Set replaces the values for key, appending a new entry if the key is
// not present. Declaration order of existing keys is unchanged.
func (d *Document) Set(key string, values ...string) {
	if i, ok := d.index[key]; ok {
		d.entries[i].Values = append([]string(nil), values...)
		return
	}
	d.index[key] = len(d.entries)
	d.entries = append(d.entries, Entry{Key: key, Values: append([]string(nil), values...)})
}

// Keys returns parameter keys in declaration order (first occurrence only).
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.index))
	seen := make(map[string]bool, len(d.index))
	for _, e := range d.entries {
		if e.Key == "" || seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		keys = append(keys, e.Key)
	}
	return keys
}

// keyColumn is the column the '=' is padded to on output. GROMACS does not
// care, but aligned files are what the engine's own dump tools emit.
const keyColumn = 24

// Write serializes the document. Round-trip with Parse preserves keys,
// values, and key order; padding and comment spacing are normalized.
func (d *Document) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range d.entries {
		switch {
		case e.IsBlank():
			fmt.Fprintln(bw)
		case e.Key == "":
			fmt.Fprintf(bw, "; %s\n", e.Comment)
		default:
			fmt.Fprintf(bw, "%-*s = %s", keyColumn, e.Key, strings.Join(e.Values, " "))
			if e.Comment != "" {
				fmt.Fprintf(bw, " ; %s", e.Comment)
			}
			fmt.Fprintln(bw)
		}
	}
	return bw.Flush()
}

// String serializes the document to a string.
func (d *Document) String() string {
	var sb strings.Builder
	_ = d.Write(&sb)
	return sb.String()
}
