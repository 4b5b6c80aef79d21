package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/conchlabs/conch/backend/quickjs"
	"github.com/conchlabs/conch/session"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a program to completion, scheduled timers included",
	Long: `Execute a program and wait for it to finish.

The run ends only once the synchronous code has returned and every
pending timer has fired, so setTimeout output is part of the result.

Code can be provided via:
  - File argument: conch run script.js
  - Inline flag: conch run -c 'console.log(1+1)'
  - Stdin: echo 'console.log(1+1)' | conch run`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().Duration("timeout", 30*time.Second, "Execution timeout")
	cmd.Flags().Duration("idle-delay", 50*time.Millisecond, "Quiet window before a run is declared finished")
	cmd.Flags().Bool("verbose", false, "Log session internals to stderr")
}

// streamChunk writes one output chunk to the matching OS stream.
func streamChunk(chunk session.OutputChunk) {
	if chunk.Stream == session.StreamErr {
		os.Stderr.WriteString(chunk.Text)
		return
	}
	os.Stdout.WriteString(chunk.Text)
}

func sessionLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func runRun(cmd *cobra.Command, args []string) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	idleDelay, _ := cmd.Flags().GetDuration("idle-delay")

	source, err := readSource(cmd, args)
	if err != nil {
		fatalf("%v", err)
	}
	if source == "" {
		cmd.Help()
		return
	}

	eng, err := newEngine(cmd)
	if err != nil {
		fatalf("%v", err)
	}
	defer eng.Close()

	sess := session.New(quickjs.New(eng),
		session.WithIdleDelay(idleDelay),
		session.WithLogger(sessionLogger(cmd)),
		session.WithObserver(func(ev session.Event) {
			if ev.Kind == session.EventOutput {
				streamChunk(ev.Chunk)
			}
		}),
	)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := sess.Init(ctx); err != nil {
		fatalf("%v", err)
	}

	cycle, err := sess.Run(source)
	if err != nil {
		fatalf("%v", err)
	}

	result, err := cycle.Wait(ctx)
	if err != nil {
		sess.Interrupt()
		fatalf("timeout after %v", timeout)
	}
	if result.Err != nil {
		fatalf("%v", result.Err)
	}
	if result.ExitCode != 0 {
		os.Exit(result.ExitCode)
	}
}
