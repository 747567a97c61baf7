// Package shutdown routes the signals that should end a session cleanly.
package shutdown

import (
	"os"
	"os/signal"
)

// Notify relays every shutdown signal of this platform to ch.
func Notify(ch chan<- os.Signal) {
	signal.Notify(ch, signals...)
}

// Stop undoes Notify for ch.
func Stop(ch chan<- os.Signal) {
	signal.Stop(ch)
}

// OnSignal runs fn once on the first shutdown signal.
func OnSignal(fn func()) {
	ch := make(chan os.Signal, 1)
	Notify(ch)
	go func() {
		<-ch
		fn()
	}()
}
