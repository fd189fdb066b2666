// Package formatter provides Transformer implementations for the astyled server.
package formatter

import (
	"fmt"
	"strings"
)

// Error codes passed to Env.ReportError.
const (
	// ErrCodeAlloc is reported when the output buffer could not be allocated.
	ErrCodeAlloc = 120
	// ErrCodeInvalidOption is reported for an unknown option key or value.
	ErrCodeInvalidOption = 130
	// ErrCodeExec is reported when an external formatter fails.
	ErrCodeExec = 140
)

// Options is the parsed form of the newline-separated key=value option string.
type Options struct {
	Mode  string
	Style string
}

// ParseOptions parses an option string such as "mode=c\nstyle=allman\n".
// Each unusable line yields one problem message; parsing continues past it.
func ParseOptions(s string) (Options, []string) {
	var (
		opts     Options
		problems []string
	)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			problems = append(problems, fmt.Sprintf("Invalid option line: %s", line))
			continue
		}
		switch key {
		case "mode":
			opts.Mode = value
		case "style":
			opts.Style = value
		default:
			problems = append(problems, fmt.Sprintf("Invalid option: %s", key))
		}
	}
	return opts, problems
}

// Flags renders the options as command line flags in a fixed order.
func (o Options) Flags() []string {
	var flags []string
	if o.Mode != "" {
		flags = append(flags, "--mode="+o.Mode)
	}
	if o.Style != "" {
		flags = append(flags, "--style="+o.Style)
	}
	return flags
}
