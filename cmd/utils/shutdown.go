// Package utils carries the small set of CLI helpers shared by this
// repository's binaries, trimmed from cmd/utils/cmd.go down to the parts
// that don't assume a blockchain node: fatal-error reporting and the
// signal-driven graceful shutdown sequence.
package utils

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// Fatalf formats a message to standard error and exits the program.
// The message is also printed to standard output if standard error
// is redirected to a different file.
func Fatalf(format string, args ...interface{}) {
	w := io.MultiWriter(os.Stdout, os.Stderr)
	if runtime.GOOS == "windows" {
		// The SameFile check below doesn't work on Windows.
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stderr
		}
	}
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// Stopper is anything whose long-lived background task this process must
// drain before exiting, such as aggregator.Aggregator or stamper.Stamper.
type Stopper interface {
	Stop()
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then stops every component
// in order (so a later one's Stop can still rely on an earlier one's state
// being quiescent), matching cmd/utils/cmd.go's StartNode interrupt
// handling, generalised away from a single *node.Node.
func WaitForShutdown(components ...Stopper) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc

	fmt.Fprintln(os.Stderr, "Got interrupt, shutting down...")
	done := make(chan struct{})
	go func() {
		for _, c := range components {
			c.Stop()
		}
		close(done)
	}()

	for {
		select {
		case <-done:
			return
		case <-sigc:
			fmt.Fprintln(os.Stderr, "Already shutting down, interrupt again to panic.")
		}
	}
}
