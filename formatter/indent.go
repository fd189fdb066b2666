package formatter

import (
	"context"
	"fmt"
	"strings"

	"github.com/Zereker/astyled"
)

// DefaultIndentWidth is the number of spaces per nesting level.
const DefaultIndentWidth = 4

// braceStyle says where opening braces go.
type braceStyle int

const (
	bracesKeep braceStyle = iota
	bracesBreak
	bracesAttach
)

type styleSpec struct {
	braces braceStyle
	// cuddle joins "}" with a following else/catch/finally.
	cuddle bool
}

var styles = map[string]styleSpec{
	"allman":     {braces: bracesBreak},
	"bsd":        {braces: bracesBreak},
	"break":      {braces: bracesBreak},
	"java":       {braces: bracesAttach, cuddle: true},
	"attach":     {braces: bracesAttach, cuddle: true},
	"kr":         {braces: bracesAttach, cuddle: true},
	"stroustrup": {braces: bracesAttach},
}

var modes = map[string]bool{
	"c":    true,
	"cs":   true,
	"java": true,
	"js":   true,
}

// Indent is a built-in formatter for brace-delimited languages. It places
// opening braces according to the style option and re-indents every line by
// brace depth. Preprocessor lines stay at column 0.
type Indent struct {
	Width int
}

// NewIndent returns an Indent using DefaultIndentWidth.
func NewIndent() *Indent {
	return &Indent{Width: DefaultIndentWidth}
}

// Transform implements astyled.Transformer.
func (f *Indent) Transform(_ context.Context, source []byte, options string, env astyled.Env) []byte {
	opts, problems := ParseOptions(options)
	if opts.Mode == "" {
		opts.Mode = "c"
	}
	if !modes[opts.Mode] {
		problems = append(problems, fmt.Sprintf("Invalid mode: %s", opts.Mode))
	}
	spec, ok := styles[opts.Style]
	if opts.Style != "" && !ok {
		problems = append(problems, fmt.Sprintf("Invalid style: %s", opts.Style))
	}
	for _, p := range problems {
		env.ReportError(ErrCodeInvalidOption, p)
	}
	if len(problems) > 0 {
		return nil
	}

	text := string(source)
	eol := "\n"
	if strings.Contains(text, "\r\n") {
		eol = "\r\n"
		text = strings.ReplaceAll(text, "\r\n", "\n")
	}
	trailing := strings.HasSuffix(text, "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	switch spec.braces {
	case bracesBreak:
		lines = breakBraces(lines)
	case bracesAttach:
		lines = attachBraces(lines, spec.cuddle)
	}
	lines = f.reindent(lines, opts.Mode)

	result := strings.Join(lines, eol)
	if trailing {
		result += eol
	}

	out := env.Alloc(len(result))
	if out == nil {
		env.ReportError(ErrCodeAlloc, "Memory allocation failure")
		return nil
	}
	copy(out, result)
	return out
}

// codeLine is a trimmed source line together with its code mask: the same
// text with string literals and comments blanked out.
type codeLine struct {
	text string
	mask string
	// inComment is set when the line starts inside a block comment.
	inComment bool
}

// scanner tracks block comments across lines.
type scanner struct {
	inBlock bool
}

// mask returns line with every byte inside a comment or literal replaced by a space.
func (s *scanner) mask(line string) string {
	m := []byte(line)
	var quote byte
	for i := 0; i < len(m); i++ {
		c := line[i]
		switch {
		case s.inBlock:
			m[i] = ' '
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				s.inBlock = false
				m[i+1] = ' '
				i++
			}
		case quote != 0:
			if c == '\\' && i+1 < len(line) {
				m[i+1] = ' '
				m[i] = ' '
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			m[i] = ' '
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			for j := i; j < len(m); j++ {
				m[j] = ' '
			}
			return string(m)
		case c == '/' && i+1 < len(line) && line[i+1] == '*':
			s.inBlock = true
			m[i], m[i+1] = ' ', ' '
			i++
		case c == '"' || c == '\'' || c == '`':
			quote = c
			m[i] = ' '
		}
	}
	return string(m)
}

// scan trims every line and computes its mask.
func scan(lines []string) []codeLine {
	var sc scanner
	out := make([]codeLine, 0, len(lines))
	for _, raw := range lines {
		inComment := sc.inBlock
		m := sc.mask(raw)
		lead := len(raw) - len(strings.TrimLeft(raw, " \t"))
		end := len(strings.TrimRight(raw, " \t"))
		if end < lead {
			end = lead
		}
		out = append(out, codeLine{text: raw[lead:end], mask: m[lead:end], inComment: inComment})
	}
	return out
}

func isPreprocessor(l codeLine) bool {
	return !l.inComment && strings.HasPrefix(l.text, "#")
}

// lastCode returns the index of the last non-blank byte of the mask, or -1.
func lastCode(mask string) int {
	return len(strings.TrimRight(mask, " \t")) - 1
}

// breakBraces moves opening braces onto their own line and splits "} else".
func breakBraces(lines []string) []string {
	var out []string
	for _, l := range scan(lines) {
		out = appendBroken(out, l)
	}
	return out
}

func appendBroken(out []string, l codeLine) []string {
	if l.inComment || isPreprocessor(l) || l.text == "" {
		return append(out, l.text)
	}

	// "} else {" -> "}" + "else {"
	if l.mask[0] == '}' && len(l.text) > 1 {
		rest := strings.TrimLeft(l.text[1:], " \t")
		restMask := l.mask[len(l.text)-len(rest):]
		if keepsCloser(rest) {
			return append(out, l.text)
		}
		out = append(out, "}")
		return appendBroken(out, codeLine{text: rest, mask: restMask})
	}

	idx := lastCode(l.mask)
	if idx > 0 && l.mask[idx] == '{' {
		head := strings.TrimRight(l.text[:idx], " \t")
		if head != "" && !initializer(head) {
			brace := "{"
			if tail := strings.TrimSpace(l.text[idx+1:]); tail != "" {
				brace += " " + tail
			}
			return append(out, head, brace)
		}
	}
	return append(out, l.text)
}

// keepsCloser reports whether the text after a leading "}" belongs on the same line.
func keepsCloser(rest string) bool {
	if rest == "" || strings.HasPrefix(rest, "while") {
		return true
	}
	switch rest[0] {
	case ';', ',', ')', '/':
		return true
	}
	return false
}

// initializer reports whether a brace after head opens an initializer list.
func initializer(head string) bool {
	if strings.HasSuffix(head, "return") {
		return true
	}
	switch head[len(head)-1] {
	case '=', ',', '(', '[':
		return true
	}
	return false
}

// attachBraces joins lone opening braces to the preceding line.
func attachBraces(lines []string, cuddle bool) []string {
	var (
		out  []string
		prev *codeLine
	)
	for _, l := range scan(lines) {
		l := l
		if prev != nil && attachable(*prev, l) {
			out[len(out)-1] += " " + l.text
			prev.text += " " + l.text
			prev.mask += " " + l.mask
			continue
		}
		if cuddle && prev != nil && prev.text == "}" && startsWithWord(l.text, "else", "catch", "finally") {
			out[len(out)-1] += " " + l.text
			prev.text += " " + l.text
			prev.mask += " " + l.mask
			continue
		}
		out = append(out, l.text)
		prev = &l
	}
	return out
}

func attachable(prev, l codeLine) bool {
	if l.inComment || strings.TrimSpace(l.mask) != "{" || l.mask[0] != '{' {
		return false
	}
	if prev.inComment || isPreprocessor(prev) || prev.text == "" {
		return false
	}
	idx := lastCode(prev.mask)
	// a trailing comment on the previous line would swallow the brace
	if idx < 0 || idx != len(prev.text)-1 {
		return false
	}
	switch prev.mask[idx] {
	case ';', '{', '}', ',', '=':
		return false
	}
	return true
}

func startsWithWord(s string, words ...string) bool {
	for _, w := range words {
		if !strings.HasPrefix(s, w) {
			continue
		}
		if len(s) == len(w) {
			return true
		}
		c := s[len(w)]
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return true
		}
	}
	return false
}

// reindent indents each line by the brace depth in effect at its start.
func (f *Indent) reindent(lines []string, mode string) []string {
	width := f.Width
	if width <= 0 {
		width = DefaultIndentWidth
	}

	out := make([]string, 0, len(lines))
	depth := 0
	for _, l := range scan(lines) {
		switch {
		case l.text == "":
			out = append(out, "")
			continue
		case l.inComment:
			prefix := ""
			if strings.HasPrefix(l.text, "*") {
				prefix = " "
			}
			out = append(out, strings.Repeat(" ", depth*width)+prefix+l.text)
		case isPreprocessor(l):
			out = append(out, l.text)
			continue
		default:
			level := depth - leadingClosers(l.mask)
			if isLabel(l.text, mode) {
				level--
			}
			if level < 0 {
				level = 0
			}
			out = append(out, strings.Repeat(" ", level*width)+l.text)
		}

		depth += strings.Count(l.mask, "{") - strings.Count(l.mask, "}")
		if depth < 0 {
			depth = 0
		}
	}
	return out
}

func leadingClosers(mask string) int {
	n := 0
	for i := 0; i < len(mask); i++ {
		switch mask[i] {
		case '}':
			n++
		case ' ', '\t':
		default:
			return n
		}
	}
	return n
}

func isLabel(text, mode string) bool {
	if startsWithWord(text, "case") || strings.HasPrefix(text, "default:") {
		return true
	}
	if mode == "c" || mode == "cs" {
		for _, access := range []string{"public:", "private:", "protected:"} {
			if strings.HasPrefix(text, access) {
				return true
			}
		}
	}
	return false
}
