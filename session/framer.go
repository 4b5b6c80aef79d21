package session

import "strings"

// Framer decides whether accumulated input forms one complete executable
// unit. It scans the whole buffer left to right on every call, tracking a
// single bracket-depth counter for ( { [ and their closers plus the
// literal and comment states of the target syntax.
//
// The buffer is complete iff depth <= 0 and no literal or comment is open
// at end of scan. Depth may go negative: an excess closer does not block
// completeness, the backend's own parser reports it instead.
type Framer struct {
	lineComment string
	blockOpen   string
	blockClose  string
	template    byte
}

// FramerOption adjusts the delimiters the framer recognizes.
type FramerOption func(*Framer)

// WithLineComment sets the line comment token. Empty disables line
// comment handling.
func WithLineComment(tok string) FramerOption {
	return func(f *Framer) { f.lineComment = tok }
}

// WithBlockComment sets the block comment delimiters. An empty open token
// disables block comment handling.
func WithBlockComment(open, close string) FramerOption {
	return func(f *Framer) {
		f.blockOpen = open
		f.blockClose = close
	}
}

// WithTemplateQuote sets the multi-line string quote. Zero disables it.
func WithTemplateQuote(q byte) FramerOption {
	return func(f *Framer) { f.template = q }
}

// NewFramer returns a framer with C-like defaults: // line comments,
// /* */ block comments and backtick template strings.
func NewFramer(opts ...FramerOption) *Framer {
	f := &Framer{
		lineComment: "//",
		blockOpen:   "/*",
		blockClose:  "*/",
		template:    '`',
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

const (
	scanCode = iota
	scanSingle
	scanDouble
	scanTemplate
	scanLine
	scanBlock
)

// Complete reports whether src is a complete executable unit.
func (f *Framer) Complete(src string) bool {
	depth := 0
	state := scanCode
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		switch state {
		case scanCode:
			if f.lineComment != "" && strings.HasPrefix(src[i:], f.lineComment) {
				state = scanLine
				i += len(f.lineComment) - 1
				continue
			}
			if f.blockOpen != "" && strings.HasPrefix(src[i:], f.blockOpen) {
				state = scanBlock
				i += len(f.blockOpen) - 1
				continue
			}
			switch c {
			case '(', '{', '[':
				depth++
			case ')', '}', ']':
				depth--
			case '\'':
				state = scanSingle
			case '"':
				state = scanDouble
			default:
				if f.template != 0 && c == f.template {
					state = scanTemplate
				}
			}

		case scanSingle, scanDouble, scanTemplate:
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			switch {
			case state == scanSingle && c == '\'':
				state = scanCode
			case state == scanDouble && c == '"':
				state = scanCode
			case state == scanTemplate && c == f.template:
				state = scanCode
			}

		case scanLine:
			if c == '\n' {
				state = scanCode
			}

		case scanBlock:
			if strings.HasPrefix(src[i:], f.blockClose) {
				state = scanCode
				i += len(f.blockClose) - 1
			}
		}
	}

	return depth <= 0 && state == scanCode
}
