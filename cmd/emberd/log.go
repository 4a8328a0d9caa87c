package main

import (
	"github.com/btcsuite/btclog/v2"

	"github.com/emberwallet/emberd/build"
	"github.com/emberwallet/emberd/chanstore"
	"github.com/emberwallet/emberd/kvstore"
	"github.com/emberwallet/emberd/signal"
	"github.com/emberwallet/emberd/vss"
)

// Subsystem defines the logging code of the daemon itself.
const Subsystem = "EMBR"

// log is the daemon's own logger, assigned during logger setup.
var log btclog.Logger

// setupLoggers hands every package its sub-logger. Loggers escalate
// critical log calls into a daemon shutdown request.
func setupLoggers(mgr *build.SubLoggerManager) {
	genLogger := func(subsystem string) btclog.Logger {
		return mgr.GenSubLogger(subsystem, signal.RequestShutdown)
	}

	log = genLogger(Subsystem)

	kvstore.UseLogger(genLogger(kvstore.Subsystem))
	vss.UseLogger(genLogger(vss.Subsystem))
	chanstore.UseLogger(genLogger(chanstore.Subsystem))
	signal.UseLogger(genLogger(signal.Subsystem))
}
