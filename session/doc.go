// Package session implements the protocol layer between a caller and an
// isolated, asynchronous language backend: an interactive read-eval-print
// surface plus one-shot batch runs, with structured results.
//
// # Overview
//
// A [Session] orchestrates one backend instance. Submitted text is
// accumulated and framed (is the buffer one complete executable unit?),
// complete units travel to a backend worker over an ordered [Channel],
// and output comes back as ordered, stream-coalesced [OutputChunk]s.
// Batch runs are additionally gated on an idle tracker so that callbacks
// scheduled by the program finish before the run is declared done.
//
// # Basic usage
//
//	sess := session.New(backend)
//	defer sess.Close()
//
//	if err := sess.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	sub, err := sess.Submit(`if (x) {`)   // incomplete: continuation prompt
//	sub, err = sess.Submit(`}`)           // complete: executes the unit
//	if sub.Complete {
//	    res, _ := sub.Cycle.Wait(ctx)
//	    fmt.Print(res.Output)
//	}
//
// # Batch runs
//
//	cycle, err := sess.Run(source)
//	res, _ := cycle.Wait(ctx)             // resolves only once truly idle
//
// # Backends
//
// Language support is pluggable via the [Backend] interface; the core
// never inspects how an adapter compiles or executes source. See the
// quickjs backend package for the reference implementation.
package session
