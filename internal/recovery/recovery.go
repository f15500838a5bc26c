// Package recovery turns model output that is fenced, truncated, or
// slightly malformed into a JSON object tree.
//
// The parser is not a general JSON repair tool. It handles the shapes a
// generative model produces when it stops mid-document: an unterminated
// string, unclosed arrays and objects, a dangling member, trailing
// commas, and prose around the payload.
package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/jsonc"
)

// Tree is a decoded JSON object.
type Tree = map[string]any

const maxPrefixBytes = 120

var ErrUnrecoverable = errors.New("unrecoverable document")

// UnrecoverableError carries enough of the raw input to diagnose a
// failed recovery without logging the whole payload.
type UnrecoverableError struct {
	RawLength int
	Prefix    string
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("recover document: %d bytes could not be repaired (prefix %q)", e.RawLength, e.Prefix)
}

func (e *UnrecoverableError) Is(target error) bool {
	return target == ErrUnrecoverable
}

// Outcome records which step produced the tree.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeDirect
	OutcomeBoundary
	OutcomeForced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDirect:
		return "direct"
	case OutcomeBoundary:
		return "boundary"
	case OutcomeForced:
		return "forced"
	default:
		return "failed"
	}
}

// Recover parses raw into an object tree, repairing it if needed.
func Recover(raw string) (Tree, error) {
	tree, _, err := RecoverWithOutcome(raw)
	return tree, err
}

func RecoverWithOutcome(raw string) (Tree, Outcome, error) {
	candidate, outcome := repair(StripFences(raw))
	if outcome == OutcomeFailed {
		return nil, OutcomeFailed, newUnrecoverable(raw)
	}
	tree, ok := parseObject(candidate)
	if !ok {
		return nil, OutcomeFailed, newUnrecoverable(raw)
	}
	return tree, outcome, nil
}

// Repair returns the candidate text Recover would parse, and whether one
// was found. Valid input is returned unchanged apart from fence removal.
func Repair(raw string) (string, bool) {
	candidate, outcome := repair(StripFences(raw))
	return candidate, outcome != OutcomeFailed
}

// StripFences removes a leading ```json or ``` fence and a trailing ```
// fence, then trims whitespace. Any prose before the first '{' is dropped.
func StripFences(raw string) string {
	text := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(text, "```json"):
		text = text[len("```json"):]
	case strings.HasPrefix(text, "```"):
		text = text[len("```"):]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '{'); idx > 0 {
		text = text[idx:]
	}
	return text
}

func repair(text string) (string, Outcome) {
	if text == "" {
		return "", OutcomeFailed
	}
	if _, ok := parseObject(text); ok {
		return text, OutcomeDirect
	}

	scan := Scan(text)
	// A document that already ends with its own top-level closing brace
	// is complete; the parse failure is not truncation.
	if scan.Boundary == len(text)-1 {
		return "", OutcomeFailed
	}

	if scan.Boundary >= 0 {
		candidate := text[:scan.Boundary+1]
		if _, ok := parseObject(candidate); ok {
			return candidate, OutcomeBoundary
		}
	}

	if candidate, ok := forceClose(text, scan); ok {
		return candidate, OutcomeForced
	}

	return "", OutcomeFailed
}

func forceClose(text string, scan ScanResult) (string, bool) {
	base := text
	if scan.Final == StateEscaped {
		base = base[:len(base)-1]
	}
	if scan.InString() {
		base += `"`
	}

	counted := base + strings.Repeat("]", max(scan.Brackets, 0)) + strings.Repeat("}", max(scan.Braces, 0))
	if _, ok := parseObject(counted); ok {
		return counted, true
	}

	// Counters lose nesting order, e.g. {"a":[{"b":1 needs }]} not ]}.
	var closers strings.Builder
	for i := len(scan.Open) - 1; i >= 0; i-- {
		if scan.Open[i] == '[' {
			closers.WriteByte(']')
		} else {
			closers.WriteByte('}')
		}
	}
	nested := base + closers.String()
	if nested != counted {
		if _, ok := parseObject(nested); ok {
			return nested, true
		}
	}
	return "", false
}

func parseObject(text string) (Tree, bool) {
	var tree Tree
	if err := json.Unmarshal(jsonc.ToJSON([]byte(text)), &tree); err != nil {
		return nil, false
	}
	if tree == nil {
		return nil, false
	}
	return tree, true
}

func newUnrecoverable(raw string) *UnrecoverableError {
	prefix := raw
	if len(prefix) > maxPrefixBytes {
		prefix = prefix[:maxPrefixBytes]
		for len(prefix) > 0 && !utf8.ValidString(prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return &UnrecoverableError{RawLength: len(raw), Prefix: prefix}
}
