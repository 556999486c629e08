// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/workerhost/workerhost/internal/worker"
)

// pumpEvents prints w's messages on stdout and its error events on stderr
// until both channels close. The returned counter tracks error events.
func (a *App) pumpEvents(g *errgroup.Group, w *worker.Worker) *atomic.Int64 {
	var faults atomic.Int64

	g.Go(func() error {
		for msg := range w.Messages() {
			a.printMessage(msg)
		}
		return nil
	})
	g.Go(func() error {
		for ev := range w.Errors() {
			faults.Add(1)
			fmt.Fprintln(a.stderr, ErrorStyle.Render("Uncaught: ")+ev.Report)
		}
		return nil
	})

	return &faults
}

// printMessage writes a posted message. Strings and byte slices are written
// verbatim, anything else in Go syntax.
func (a *App) printMessage(msg worker.Message) {
	var v any
	if err := msg.Decode(&v); err != nil {
		fmt.Fprintln(a.stderr, WarningStyle.Render("Warning: ")+"undecodable message: "+err.Error())
		return
	}

	switch x := v.(type) {
	case nil:
	case string:
		fmt.Fprintln(a.stdout, x)
	case []byte:
		fmt.Fprintln(a.stdout, string(x))
	default:
		fmt.Fprintf(a.stdout, "%v\n", x)
	}

	for i, buf := range msg.Transfer {
		fmt.Fprintln(a.stderr, SubtitleStyle.Render(fmt.Sprintf("transfer[%d]: %d bytes", i, len(buf))))
	}
}
