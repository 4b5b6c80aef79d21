package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conchlabs/conch/backend/quickjs"
)

var rootCmd = &cobra.Command{
	Use:   "conch [file]",
	Short: "Interactive and batch sessions for the embedded QuickJS interpreter",
	Long: `conch - a session layer over an embedded script interpreter.

Run whole programs to completion (scheduled timers included), or start
an interactive REPL with multi-line input and tab completion. The
interpreter runs inside a WebAssembly sandbox with no default access to
the host system.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRun, // default to run command behavior
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("no-cache", false, "Disable the compilation cache")
	rootCmd.PersistentFlags().String("memory", "", "Memory limit: 64mb, 256mb")

	addRunFlags(rootCmd)
}

// newEngine builds the shared interpreter engine from persistent flags.
func newEngine(cmd *cobra.Command) (*quickjs.Engine, error) {
	noCache, _ := cmd.Root().PersistentFlags().GetBool("no-cache")
	memory, _ := cmd.Root().PersistentFlags().GetString("memory")

	var opts []quickjs.EngineOption
	if !noCache {
		opts = append(opts, quickjs.WithDiskCache())
	}
	if pages := parseMemoryLimit(memory); pages > 0 {
		opts = append(opts, quickjs.WithMemoryLimit(pages))
	}
	return quickjs.NewEngine(opts...)
}

func parseMemoryLimit(s string) uint32 {
	switch strings.ToLower(s) {
	case "64mb":
		return quickjs.MemoryLimit64MB
	case "256mb":
		return quickjs.MemoryLimit256MB
	default:
		return 0 // use default
	}
}

// readSource resolves program text from the -c flag, a file argument or
// piped stdin, in that order.
func readSource(cmd *cobra.Command, args []string) (string, error) {
	code, _ := cmd.Flags().GetString("code")

	switch {
	case code != "":
		return code, nil
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			return "", nil
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
