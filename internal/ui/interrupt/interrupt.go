// Package interrupt handles Ctrl+C (SIGINT) and SIGTERM for long-running league binaries: the first
// signal asks for a graceful shutdown, and the program is forced to exit if it doesn't finish
// within a grace period, or if a second signal arrives.
package interrupt

import (
	"fmt"
	"k8s.io/klog/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// exit is replaced in tests.
var exit = func() {
	ResetTerminal()
	klog.Flush()
	os.Exit(1)
}

// SafeInterrupt captures SIGINT and SIGTERM and calls onInterrupt (in a separate goroutine) on the
// first one. If the program hasn't exited after gracePeriod, or a second signal arrives, it resets
// the terminal and exits.
//
// The returned stop function releases the signals and disarms the forced exit.
func SafeInterrupt(onInterrupt func(), gracePeriod time.Duration) (stop func()) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(stopped)
		})
	}

	go func() {
		var s os.Signal
		select {
		case s = <-sigChan:
		case <-stopped:
			return
		}
		fmt.Println()
		klog.Errorf("Got interrupted (signal %q), shutting down... (%s)", s, gracePeriod)
		if onInterrupt != nil {
			go onInterrupt()
		}
		select {
		case <-stopped:
			return
		case s = <-sigChan:
			klog.Errorf("Got a second signal %q, exiting now.", s)
		case <-time.After(gracePeriod):
			klog.Errorf("Graceful shutdown period of %s expired, exiting.", gracePeriod)
		}
		exit()
	}()
	return stop
}

// ResetTerminal makes the cursor visible and restores the default terminal colors.
func ResetTerminal() {
	fmt.Print("\033[?25h\033[39;49;0m\n")
}
