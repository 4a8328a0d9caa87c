// Package signal turns OS interrupt signals and internal shutdown requests
// into a single shutdown channel the daemon's main goroutine can wait on.
package signal

import (
	"os"
	"os/signal"
	"syscall"
)

var (
	// interruptChannel receives the OS signals we shut down on.
	interruptChannel = make(chan os.Signal, 1)

	// shutdownRequestChannel carries programmatic shutdown requests,
	// treated the same as an OS interrupt.
	shutdownRequestChannel = make(chan struct{})

	// quit is closed once a shutdown has been decided on, making every
	// later request a no-op.
	quit = make(chan struct{})

	// shutdownChannel is closed when the interrupt handler exits, which
	// is the signal the main goroutine actually waits on.
	shutdownChannel = make(chan struct{})
)

func init() {
	signal.Notify(
		interruptChannel, os.Interrupt, syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	go mainInterruptHandler()
}

// mainInterruptHandler collapses OS signals and internal shutdown requests
// into one close of shutdownChannel.
//
// NOTE: Must be run as a goroutine.
func mainInterruptHandler() {
	var isShutdown bool
	shutdown := func() {
		// Repeated interrupts are ignored once a shutdown is under
		// way.
		if isShutdown {
			log.Infof("Already shutting down...")
			return
		}
		isShutdown = true

		close(quit)
	}

	for {
		select {
		case sig := <-interruptChannel:
			log.Infof("Received %v, shutting down", sig)
			shutdown()

		case <-shutdownRequestChannel:
			log.Infof("Received shutdown request")
			shutdown()

		case <-quit:
			log.Infof("Gracefully shutting down")
			close(shutdownChannel)
			return
		}
	}
}

// Alive returns true as long as no shutdown has been requested.
func Alive() bool {
	select {
	case <-quit:
		return false
	default:
		return true
	}
}

// RequestShutdown initiates a graceful shutdown from within the
// application.
func RequestShutdown() {
	select {
	case shutdownRequestChannel <- struct{}{}:
	case <-quit:
	}
}

// ShutdownChannel returns the channel that is closed once the shutdown has
// been processed.
func ShutdownChannel() <-chan struct{} {
	return shutdownChannel
}
