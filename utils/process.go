package utils

import (
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/sirupsen/logrus"
)

// WaitForCtrlC blocks until the process receives SIGINT or SIGTERM.
func WaitForCtrlC() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	sig := <-signals
	logrus.Infof("received %v, shutting down", sig)
}

// HandleSubroutinePanic logs a recovered panic of a background goroutine. Use it deferred.
func HandleSubroutinePanic(identifier string) {
	err := recover()
	if err == nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"routine": identifier,
		"panic":   err,
	}).Errorf("uncaught panic in %v: %v\n%s", identifier, err, debug.Stack())
}
