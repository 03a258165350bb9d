package grants

import (
	"context"
	"time"
)

// Issuer mints tokens for completed grants. *TokenIssuer implements it.
type Issuer interface {
	Issue(ctx context.Context, gc GrantContext) (*IssuedToken, error)
}

var _ Issuer = (*TokenIssuer)(nil)

// Option customizes the grant flows.
type Option func(*flowOptions)

type flowOptions struct {
	logger   Logger
	activity ActivitySink
	now      func() time.Time
	codes    CodeGenerator
}

func defaultFlowOptions(opts []Option) flowOptions {
	o := flowOptions{
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
		codes:    DefaultCodeGenerator(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger sets the flow logger
func WithLogger(logger Logger) Option {
	return func(o *flowOptions) {
		o.logger = normalizeLogger(logger)
	}
}

// WithActivitySink sets the sink that receives grant activity events
func WithActivitySink(sink ActivitySink) Option {
	return func(o *flowOptions) {
		o.activity = normalizeActivitySink(sink)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *flowOptions) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithCodeGenerator replaces the generator of keys and codes.
func WithCodeGenerator(codes CodeGenerator) Option {
	return func(o *flowOptions) {
		if codes != nil {
			o.codes = codes
		}
	}
}

func (o flowOptions) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = o.now()
	}
	recordActivity(ctx, o.activity, o.logger, event)
}
