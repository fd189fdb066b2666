package formatter

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/astyled"
)

// testEnv is an astyled.Env that records reported errors.
type testEnv struct {
	errs       []astyled.TransformError
	allocFails bool
}

func (e *testEnv) ReportError(code int, message string) {
	e.errs = append(e.errs, astyled.TransformError{Code: code, Message: message})
}

func (e *testEnv) Alloc(size int) []byte {
	if e.allocFails {
		return nil
	}
	return make([]byte, size)
}

var (
	_ astyled.Transformer = (*Indent)(nil)
	_ astyled.Transformer = (*Command)(nil)
)

func format(t *testing.T, source, options string) string {
	t.Helper()
	env := &testEnv{}
	out := NewIndent().Transform(context.Background(), []byte(source), options, env)
	require.Empty(t, env.errs)
	return string(out)
}

func TestParseOptions(t *testing.T) {
	opts, problems := ParseOptions("mode=java\nstyle=allman\n")
	assert.Empty(t, problems)
	assert.Equal(t, Options{Mode: "java", Style: "allman"}, opts)
	assert.Equal(t, []string{"--mode=java", "--style=allman"}, opts.Flags())

	_, problems = ParseOptions("indent=4\nbogus\n")
	assert.Equal(t, []string{"Invalid option: indent", "Invalid option line: bogus"}, problems)

	opts, problems = ParseOptions("")
	assert.Empty(t, problems)
	assert.Empty(t, opts.Flags())
}

func TestIndent_Allman(t *testing.T) {
	source := "int main() {\nif (x) {\nfoo();\n} else {\nbar();\n}\n}\n"
	want := `int main()
{
    if (x)
    {
        foo();
    }
    else
    {
        bar();
    }
}
`
	assert.Equal(t, want, format(t, source, "mode=c\nstyle=allman\n"))
}

func TestIndent_Java(t *testing.T) {
	source := "int main()\n{\nif (x)\n{\nfoo();\n}\nelse\n{\nbar();\n}\n}\n"
	want := `int main() {
    if (x) {
        foo();
    } else {
        bar();
    }
}
`
	assert.Equal(t, want, format(t, source, "style=java\n"))
}

func TestIndent_StroustrupKeepsElseOnOwnLine(t *testing.T) {
	source := "void f()\n{\nif (x)\n{\na();\n}\nelse\n{\nb();\n}\n}\n"
	want := `void f() {
    if (x) {
        a();
    }
    else {
        b();
    }
}
`
	assert.Equal(t, want, format(t, source, "style=stroustrup\n"))
}

func TestIndent_ReindentOnly(t *testing.T) {
	source := "void f() {\n        a();\n  if (b) {\nc();\n      }\n}\n"
	want := "void f() {\n    a();\n    if (b) {\n        c();\n    }\n}\n"
	assert.Equal(t, want, format(t, source, ""))
}

func TestIndent_IgnoresBracesInLiteralsAndComments(t *testing.T) {
	source := strings.Join([]string{
		"void f() {",
		`puts("{");`,
		"char c = '}';",
		"// }",
		"/* {",
		"* }",
		"*/",
		"g();",
		"}",
		"",
	}, "\n")
	want := strings.Join([]string{
		"void f() {",
		`    puts("{");`,
		"    char c = '}';",
		"    // }",
		"    /* {",
		"     * }",
		"     */",
		"    g();",
		"}",
		"",
	}, "\n")
	assert.Equal(t, want, format(t, source, "mode=c\n"))
}

func TestIndent_PreprocessorAndLabels(t *testing.T) {
	source := strings.Join([]string{
		"#include <stdio.h>",
		"int f(int x) {",
		"  #ifdef DEBUG",
		"log();",
		"#endif",
		"switch (x) {",
		"case 1:",
		"return 1;",
		"default:",
		"return 0;",
		"}",
		"}",
	}, "\n")
	want := strings.Join([]string{
		"#include <stdio.h>",
		"int f(int x) {",
		"#ifdef DEBUG",
		"    log();",
		"#endif",
		"    switch (x) {",
		"    case 1:",
		"        return 1;",
		"    default:",
		"        return 0;",
		"    }",
		"}",
	}, "\n")
	assert.Equal(t, want, format(t, source, ""))
}

func TestIndent_AllmanKeepsInitializers(t *testing.T) {
	source := "int a[] = {\n1, 2\n};\n"
	want := "int a[] = {\n    1, 2\n};\n"
	assert.Equal(t, want, format(t, source, "style=allman\n"))
}

func TestIndent_CRLF(t *testing.T) {
	source := "class A {\r\nint x;\r\n}\r\n"
	want := "class A\r\n{\r\n    int x;\r\n}\r\n"
	assert.Equal(t, want, format(t, source, "mode=java\nstyle=bsd\n"))
}

func TestIndent_CustomWidth(t *testing.T) {
	env := &testEnv{}
	out := (&Indent{Width: 2}).Transform(context.Background(), []byte("f() {\nx;\n}"), "", env)
	require.Empty(t, env.errs)
	assert.Equal(t, "f() {\n  x;\n}", string(out))
}

func TestIndent_UnbalancedClosersDoNotUnderflow(t *testing.T) {
	assert.Equal(t, "}\n}\nx;\n", format(t, "}\n  }\n  x;\n", ""))
}

func TestIndent_InvalidOptions(t *testing.T) {
	env := &testEnv{}
	out := NewIndent().Transform(context.Background(), []byte("x;"), "mode=python\nstyle=fancy\n", env)

	assert.Nil(t, out)
	require.Len(t, env.errs, 2)
	assert.Equal(t, astyled.TransformError{Code: ErrCodeInvalidOption, Message: "Invalid mode: python"}, env.errs[0])
	assert.Equal(t, astyled.TransformError{Code: ErrCodeInvalidOption, Message: "Invalid style: fancy"}, env.errs[1])
}

func TestIndent_AllocFailure(t *testing.T) {
	env := &testEnv{allocFails: true}
	out := NewIndent().Transform(context.Background(), []byte("x;"), "", env)

	assert.Nil(t, out)
	require.Len(t, env.errs, 1)
	assert.Equal(t, ErrCodeAlloc, env.errs[0].Code)
}

func requireShell(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return path
}

func TestCommand_Success(t *testing.T) {
	sh := requireShell(t)
	// "$@" receives the appended --mode/--style flags
	cmd := &Command{Path: sh, Args: []string{"-c", `tr a-z A-Z; echo "$@"`, "astyle"}, Timeout: 5 * time.Second}

	env := &testEnv{}
	out := cmd.Transform(context.Background(), []byte("int x;\n"), "mode=c\nstyle=kr\n", env)

	require.Empty(t, env.errs)
	assert.Equal(t, "INT X;\n--mode=c --style=kr\n", string(out))
}

func TestCommand_Failure(t *testing.T) {
	sh := requireShell(t)
	cmd := &Command{Path: sh, Args: []string{"-c", "echo 'first problem' >&2; echo >&2; echo 'second problem' >&2; exit 3"}}

	env := &testEnv{}
	out := cmd.Transform(context.Background(), []byte("x"), "", env)

	assert.Nil(t, out)
	assert.Equal(t, []astyled.TransformError{
		{Code: ErrCodeExec, Message: "first problem"},
		{Code: ErrCodeExec, Message: "second problem"},
	}, env.errs)
}

func TestCommand_SilentFailure(t *testing.T) {
	sh := requireShell(t)
	cmd := &Command{Path: sh, Args: []string{"-c", "exit 1"}}

	env := &testEnv{}
	cmd.Transform(context.Background(), []byte("x"), "", env)

	require.Len(t, env.errs, 1)
	assert.Contains(t, env.errs[0].Message, "exit status 1")
}

func TestCommand_Timeout(t *testing.T) {
	sh := requireShell(t)
	cmd := &Command{Path: sh, Args: []string{"-c", "sleep 5"}, Timeout: 50 * time.Millisecond}

	env := &testEnv{}
	start := time.Now()
	cmd.Transform(context.Background(), []byte("x"), "", env)

	assert.Less(t, time.Since(start), 4*time.Second)
	require.NotEmpty(t, env.errs)
	assert.Equal(t, ErrCodeExec, env.errs[0].Code)
}

func TestCommand_MissingExecutable(t *testing.T) {
	cmd := &Command{Path: "/nonexistent/astyle"}

	env := &testEnv{}
	cmd.Transform(context.Background(), []byte("x"), "", env)

	require.Len(t, env.errs, 1)
	assert.True(t, strings.HasPrefix(env.errs[0].Message, "/nonexistent/astyle: "))
}

func TestCommand_InvalidOption(t *testing.T) {
	cmd := &Command{Path: "/nonexistent/astyle"}

	env := &testEnv{}
	cmd.Transform(context.Background(), []byte("x"), "indent=4\n", env)

	require.Len(t, env.errs, 1)
	assert.Equal(t, ErrCodeInvalidOption, env.errs[0].Code)
}
