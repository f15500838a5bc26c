package recovery

// ScanState is the lexical state of the structural scanner.
type ScanState int

const (
	StateNormal ScanState = iota
	StateInString
	// StateEscaped follows a backslash inside a string; the next byte is
	// consumed without interpretation.
	StateEscaped
)

func (s ScanState) String() string {
	switch s {
	case StateInString:
		return "in_string"
	case StateEscaped:
		return "escaped"
	default:
		return "normal"
	}
}

// ScanResult summarizes one left-to-right pass over a candidate document.
type ScanResult struct {
	// Final is the state after the last byte.
	Final ScanState
	// Braces and Brackets are the unmatched open counts. They go negative
	// on stray closers.
	Braces   int
	Brackets int
	// Boundary is the index of the last '}' that closed the top-level
	// object, or -1.
	Boundary int
	// Open lists unmatched openers innermost-last.
	Open []byte
}

// InString reports whether the input ended inside a string literal.
func (r ScanResult) InString() bool {
	return r.Final == StateInString || r.Final == StateEscaped
}

// Scanner tracks string state and nesting depth byte by byte. Create it
// with NewScanner.
type Scanner struct {
	state     ScanState
	braces    int
	brackets  int
	boundary  int
	open      []byte
	pos       int
}

func NewScanner() *Scanner {
	return &Scanner{boundary: -1}
}

// Step consumes one byte.
func (s *Scanner) Step(c byte) {
	idx := s.pos
	s.pos++

	switch s.state {
	case StateEscaped:
		s.state = StateInString
		return
	case StateInString:
		switch c {
		case '\\':
			s.state = StateEscaped
		case '"':
			s.state = StateNormal
		}
		return
	}

	switch c {
	case '"':
		s.state = StateInString
	case '{':
		s.braces++
		s.open = append(s.open, '{')
	case '}':
		s.braces--
		s.pop('{')
		if s.braces == 0 {
			s.boundary = idx
		}
	case '[':
		s.brackets++
		s.open = append(s.open, '[')
	case ']':
		s.brackets--
		s.pop('[')
	}
}

func (s *Scanner) pop(opener byte) {
	n := len(s.open)
	if n > 0 && s.open[n-1] == opener {
		s.open = s.open[:n-1]
	}
}

func (s *Scanner) Result() ScanResult {
	open := make([]byte, len(s.open))
	copy(open, s.open)
	return ScanResult{
		Final:     s.state,
		Braces:    s.braces,
		Brackets:  s.brackets,
		Boundary:  s.boundary,
		Open:      open,
	}
}

// Scan runs a fresh Scanner over text.
func Scan(text string) ScanResult {
	s := NewScanner()
	for i := 0; i < len(text); i++ {
		s.Step(text[i])
	}
	return s.Result()
}
