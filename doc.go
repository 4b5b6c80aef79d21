// Package conch provides interactive and batch sessions for embedded
// script interpreters.
//
// # Overview
//
// conch sits between a line-oriented frontend (a terminal, an editor, a
// service) and a code-evaluating backend. It decides when accumulated
// input forms a complete unit, keeps interleaved stdout/stderr output in
// order, and knows when a batch program with pending timers is actually
// finished.
//
// # Basic Usage
//
//	eng, _ := quickjs.NewEngine()
//	defer eng.Close()
//
//	sess := session.New(quickjs.New(eng))
//	defer sess.Close()
//
//	sess.Init(ctx)
//
//	// Interactive: input accumulates until it forms a complete unit.
//	sub, _ := sess.Submit(`function add(a, b) {`)
//	sub, _ = sess.Submit(`  return a + b;`)
//	sub, _ = sess.Submit(`}`)
//	sub.Cycle.Wait(ctx)
//
//	// Batch: completion waits for scheduled timers to drain.
//	cycle, _ := sess.Run(source)
//	result, _ := cycle.Wait(ctx)
//	fmt.Println(result.Output)
//
// # One-Shot Execution
//
//	result := conch.Run(source, conch.DefaultConfig())
//	fmt.Println(result.Output)
//
// See the [session] and [backend/quickjs] packages for detailed API
// documentation.
package conch
