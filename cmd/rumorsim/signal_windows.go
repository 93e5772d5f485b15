//go:build windows

package main

import (
	"os"
	"os/signal"
)

// notifySignals routes shutdown signals to ch so a run can stop and still save.
// On Windows, only os.Interrupt (Ctrl+C) is supported; SIGTERM does not exist.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
