package build

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/btcsuite/btclog"
	btclog2 "github.com/btcsuite/btclog/v2"
)

// SubLoggerManager manages a set of subsystem loggers. Level updates will be
// applied to all the loggers managed by the manager.
type SubLoggerManager struct {
	genLogger func(string) btclog2.Logger

	loggers SubLoggers
	mu      sync.Mutex
}

// A compile time check to ensure SubLoggerManager implements the
// LeveledSubLogger interface.
var _ LeveledSubLogger = (*SubLoggerManager)(nil)

// NewSubLoggerManager constructs a new SubLoggerManager with the given set of
// handlers. All log lines of any generated sub-logger are forwarded to every
// handler in the set.
func NewSubLoggerManager(handlers ...btclog2.Handler) *SubLoggerManager {
	handler := newHandlerSet(btclog.LevelInfo, handlers...)

	return &SubLoggerManager{
		loggers: make(SubLoggers),
		genLogger: func(tag string) btclog2.Logger {
			return btclog2.NewSLogger(handler.SubSystem(tag))
		},
	}
}

// GenSubLogger creates a new sub-logger and adds it to the set managed by the
// SubLoggerManager. A shutdown callback function is provided to be able to
// shut down the daemon if requested.
func (r *SubLoggerManager) GenSubLogger(subsystem string,
	shutdown func()) btclog2.Logger {

	logger := r.genLogger(subsystem)
	shutdownLogger := NewShutdownLogger(logger, shutdown)

	r.mu.Lock()
	r.loggers[subsystem] = shutdownLogger
	r.mu.Unlock()

	return shutdownLogger
}

// SubLoggers returns all currently registered subsystem loggers for this log
// writer.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SubLoggers() SubLoggers {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loggers
}

// SupportedSubsystems returns a sorted string slice of all keys in the
// subsystems map, corresponding to the names of the subsystems.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SupportedSubsystems() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Convert the subsystemLoggers map keys to a string slice.
	subsystems := make([]string, 0, len(r.loggers))
	for subsysID := range r.loggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsystems for stable display.
	sort.Strings(subsystems)

	return subsystems
}

// SetLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored. Uninitialized subsystems are dynamically created as
// needed.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SetLogLevel(subsystemID string, logLevel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Ignore invalid subsystems.
	logger, ok := r.loggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)

	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level. It also dynamically creates the subsystem loggers as needed, so it
// can be used to initialize the logging system.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SetLogLevels(logLevel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)

	// Change the logging level for all subsystems.
	for _, logger := range r.loggers {
		logger.SetLevel(level)
	}
}

// handlerSet is an implementation of the btclog2.Handler interface that fans
// every log record out to each handler in the set.
type handlerSet struct {
	level btclog.Level
	set   []btclog2.Handler
}

// newHandlerSet constructs a new handlerSet with the given starting level.
func newHandlerSet(level btclog.Level, set ...btclog2.Handler) *handlerSet {
	h := &handlerSet{
		set:   set,
		level: level,
	}
	h.SetLevel(level)

	return h
}

// Enabled reports whether the handler handles records at the given level.
//
// NOTE: this is part of the btclog2.Handler interface.
func (h *handlerSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.set {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

// Handle handles the Record by passing it to all the handlers in the set.
//
// NOTE: this is part of the btclog2.Handler interface.
func (h *handlerSet) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.set {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}

		if err := handler.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

// WithAttrs returns a new handlerSet whose handlers all have the given
// attributes applied.
//
// NOTE: this is part of the btclog2.Handler interface.
func (h *handlerSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	newSet := &handlerSet{
		set:   make([]btclog2.Handler, len(h.set)),
		level: h.level,
	}
	for i, handler := range h.set {
		newSet.set[i], _ = handler.WithAttrs(attrs).(btclog2.Handler)
	}

	return newSet
}

// WithGroup returns a new handlerSet with the given group applied to each
// handler in the set.
//
// NOTE: this is part of the btclog2.Handler interface.
func (h *handlerSet) WithGroup(name string) slog.Handler {
	newSet := &handlerSet{
		set:   make([]btclog2.Handler, len(h.set)),
		level: h.level,
	}
	for i, handler := range h.set {
		newSet.set[i], _ = handler.WithGroup(name).(btclog2.Handler)
	}

	return newSet
}

// SubSystem returns a copy of the handler set but with the new subsystem tag.
//
// NOTE: this is part of the btclog2.Handler interface.
func (h *handlerSet) SubSystem(tag string) btclog2.Handler {
	newSet := &handlerSet{
		set:   make([]btclog2.Handler, len(h.set)),
		level: h.level,
	}
	for i, handler := range h.set {
		newSet.set[i] = handler.SubSystem(tag)
	}

	return newSet
}

// WithPrefix returns a copy of the handler set with the given prefix applied
// to each handler in the set.
//
// NOTE: this is part of the btclog2.Handler interface.
func (h *handlerSet) WithPrefix(prefix string) btclog2.Handler {
	newSet := &handlerSet{
		set:   make([]btclog2.Handler, len(h.set)),
		level: h.level,
	}
	for i, handler := range h.set {
		newSet.set[i] = handler.WithPrefix(prefix)
	}

	return newSet
}

// SetLevel changes the logging level of the Handler to the passed level.
//
// NOTE: this is part of the btclog2.Handler interface.
func (h *handlerSet) SetLevel(level btclog.Level) {
	for _, handler := range h.set {
		handler.SetLevel(level)
	}
	h.level = level
}

// Level returns the current logging level of the Handler.
//
// NOTE: this is part of the btclog2.Handler interface.
func (h *handlerSet) Level() btclog.Level {
	return h.level
}

// A compile time check to ensure handlerSet implements the btclog2.Handler
// interface.
var _ btclog2.Handler = (*handlerSet)(nil)
