package formatter

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/Zereker/astyled"
)

// DefaultCommandPath is the external formatter run by Command when Path is empty.
const DefaultCommandPath = "astyle"

// Command runs an external formatter, feeding the source on stdin and
// reading the result from stdout. Options become --mode= and --style= flags
// appended after Args.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// Transform implements astyled.Transformer.
func (c *Command) Transform(ctx context.Context, source []byte, options string, env astyled.Env) []byte {
	opts, problems := ParseOptions(options)
	for _, p := range problems {
		env.ReportError(ErrCodeInvalidOption, p)
	}
	if len(problems) > 0 {
		return nil
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	path := c.Path
	if path == "" {
		path = DefaultCommandPath
	}
	args := append(append([]string{}, c.Args...), opts.Flags()...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(source)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// children that inherit the pipes must not hold Run open past cancellation
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		reported := false
		sc := bufio.NewScanner(&stderr)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				env.ReportError(ErrCodeExec, line)
				reported = true
			}
		}
		if !reported {
			env.ReportError(ErrCodeExec, path+": "+err.Error())
		}
		return nil
	}

	out := env.Alloc(stdout.Len())
	if out == nil {
		env.ReportError(ErrCodeAlloc, "Memory allocation failure")
		return nil
	}
	copy(out, stdout.Bytes())
	return out
}
