package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/conchlabs/conch/backend/quickjs"
	"github.com/conchlabs/conch/session"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL with persistent state",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input: open braces, brackets or strings switch to a
    continuation prompt until the unit is complete
  - Tab completion backed by the live interpreter

Ctrl+C discards partial input or interrupts a running unit. Type 'exit'
or 'quit' to end the session, or press Ctrl+D.`,
	Run: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.conch_history)")
	replCmd.Flags().Bool("verbose", false, "Log session internals to stderr")
	rootCmd.AddCommand(replCmd)
}

// sessionCompleter adapts session completions to readline.
type sessionCompleter struct {
	sess *session.Session
}

func isIdentRune(ch byte) bool {
	return ch == '.' || ch == '_' || ch == '$' ||
		('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ('0' <= ch && ch <= '9')
}

func (c *sessionCompleter) Do(line []rune, pos int) ([][]rune, int) {
	head := string(line[:pos])
	start := len(head)
	for start > 0 && isIdentRune(head[start-1]) {
		start--
	}
	prefix := head[start:]
	if prefix == "" {
		return nil, 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	cands, err := c.sess.Completions(ctx, prefix)
	if err != nil {
		return nil, 0
	}

	var out [][]rune
	for _, cand := range cands {
		if strings.HasPrefix(cand, prefix) {
			out = append(out, []rune(cand[len(prefix):]))
		}
	}
	return out, len(prefix)
}

func runRepl(cmd *cobra.Command, args []string) {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".conch_history")
	}

	eng, err := newEngine(cmd)
	if err != nil {
		fatalf("%v", err)
	}
	defer eng.Close()

	// Output streams as it arrives; cycle results only carry errors here.
	lastByte := byte('\n')
	sess := session.New(quickjs.New(eng),
		session.WithLogger(sessionLogger(cmd)),
		session.WithObserver(func(ev session.Event) {
			switch ev.Kind {
			case session.EventOutput:
				streamChunk(ev.Chunk)
				if n := len(ev.Chunk.Text); n > 0 {
					lastByte = ev.Chunk.Text[n-1]
				}
			case session.EventStatus:
				fmt.Fprintln(os.Stderr, ev.Text)
			}
		}),
	)
	defer sess.Close()

	if err := sess.Init(context.Background()); err != nil {
		fatalf("%v", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            sess.Prompt(),
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		AutoComplete:      &sessionCompleter{sess: sess},
	})
	if err != nil {
		fatalf("initializing readline: %v", err)
	}
	defer rl.Close()

	fmt.Fprintf(os.Stderr, "conch %s REPL (type 'exit' to quit, Ctrl+D to exit)\n", sess.Backend())

	inUnit := false

	for {
		rl.SetPrompt(sess.Prompt())
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				// Discards partial input and restores the primary prompt.
				sess.Interrupt()
				inUnit = false
				continue
			}
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			break
		}

		if !inUnit {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if trimmed == "exit" || trimmed == "quit" {
				break
			}
		}

		sub, err := sess.Submit(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if !sub.Complete {
			inUnit = true
			continue
		}
		inUnit = false

		result, werr := sub.Cycle.Wait(context.Background())
		if lastByte != '\n' {
			fmt.Println()
			lastByte = '\n'
		}
		if werr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", werr)
			continue
		}
		if result.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", result.Err)
		}
	}
}
