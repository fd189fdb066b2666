package cmd

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/astyled"
)

// formatCmd sends one request to a running server
var formatCmd = &cobra.Command{
	Use:   "format [file]",
	Short: "Format a file through a running server",
	Long: `Send a file (or stdin when no file is given) to an astyled server and
print the formatted result on stdout. An ERR reply is printed on stderr
and the command exits with a non-zero status.

Examples:
  astyled format main.c --mode c --style allman
  cat Foo.java | astyled format --addr 10.0.0.5:8007 --mode java`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFormat,
}

func init() {
	rootCmd.AddCommand(formatCmd)
	formatCmd.Flags().String("addr", "127.0.0.1:8007", "Server address")
	formatCmd.Flags().String("mode", "", "Source mode, e.g. c, java, cs")
	formatCmd.Flags().String("style", "", "Bracket style, e.g. allman, java, kr")
	formatCmd.Flags().Duration("timeout", 30*time.Second, "Timeout for the whole exchange")
}

func runFormat(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	mode, _ := cmd.Flags().GetString("mode")
	style, _ := cmd.Flags().GetString("style")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	var (
		source []byte
		err    error
	)
	if len(args) == 1 {
		source, err = os.ReadFile(args[0])
	} else {
		source, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return errors.Wrap(err, "read source")
	}

	opts := make(map[string]string)
	if mode != "" {
		opts[astyled.OptionMode] = mode
	}
	if style != "" {
		opts[astyled.OptionStyle] = style
	}

	client := astyled.NewClient(addr)
	client.Timeout = timeout

	out, err := client.Format(cmd.Context(), source, opts)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
