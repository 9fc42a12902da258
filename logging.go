package immortals

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

type (
	// Option configures a Manager, see New.
	Option interface {
		applyManager(*managerOptions) error
	}

	optionImpl struct {
		applyFunc func(*managerOptions) error
	}

	managerOptions struct {
		logger *logiface.Logger[logiface.Event]
	}
)

// WithLogger configures the logger used by the Manager, and the components
// it owns. A nil logger (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *managerOptions) error {
		opts.logger = logger
		return nil
	}}
}

func (x *optionImpl) applyManager(opts *managerOptions) error {
	return x.applyFunc(opts)
}

// NewLogger returns a JSON logger writing to w, at the given level, intended
// for use with WithLogger. Each event is a single line.
func NewLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}
