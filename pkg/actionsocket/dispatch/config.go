package dispatch

import (
	"errors"

	"github.com/samber/oops"
	"github.com/tsarna/actionsocket/pkg/actionsocket/action"
	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
	"github.com/tsarna/actionsocket/pkg/actionsocket/o11y"
	"go.uber.org/zap"
)

// Error codes produced by the dispatcher.
const (
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeHandlerPanic  = "HANDLER_PANIC"
)

// Config holds the configuration for creating a Dispatcher. Use NewConfig()
// to create a new configuration and chain methods to set the options before
// calling Build().
type Config struct {
	provider        action.Provider
	logger          *zap.Logger
	coercer         coerce.Service
	classTransform  bool
	validate        bool
	shapeOptions    coerce.ShapeOptions
	plainOptions    coerce.PlainOptions
	validateOptions coerce.ValidateOptions
	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider
}

// NewConfig creates a new Config. Structured transform and validation are
// enabled by default.
//
// Example:
//
//	d, err := dispatch.NewConfig().
//	    WithProvider(provider).
//	    WithLogger(logger).
//	    WithPlainOptions(coerce.PlainOptions{ExcludePaths: []string{"password"}}).
//	    WithMetricsProvider(metrics).
//	    Build()
//	d.Attach(server)
func NewConfig() *Config {
	return &Config{
		classTransform: true,
		validate:       true,
	}
}

// WithProvider sets the source of controllers to dispatch. Required.
func (c *Config) WithProvider(provider action.Provider) *Config {
	c.provider = provider
	return c
}

// WithLogger sets the logger. Defaults to a no-op logger.
func (c *Config) WithLogger(logger *zap.Logger) *Config {
	c.logger = logger
	return c
}

// WithCoercer replaces the coercion and validation service. Defaults to
// coerce.NewService().
func (c *Config) WithCoercer(coercer coerce.Service) *Config {
	c.coercer = coercer
	return c
}

// WithClassTransform toggles mapping of message bodies into their declared
// shapes and flattening of outbound values. Actions may override it.
//
// Default: true
func (c *Config) WithClassTransform(enabled bool) *Config {
	c.classTransform = enabled
	return c
}

// WithValidation sets whether shape parameters are validated. Parameters may
// override it.
//
// Default: true
func (c *Config) WithValidation(enabled bool) *Config {
	c.validate = enabled
	return c
}

// WithShapeOptions sets the default options for mapping bodies into shapes.
func (c *Config) WithShapeOptions(opts coerce.ShapeOptions) *Config {
	c.shapeOptions = opts
	return c
}

// WithPlainOptions sets the flattening options applied to every emission.
// Per-policy options are added on top.
func (c *Config) WithPlainOptions(opts coerce.PlainOptions) *Config {
	c.plainOptions = opts
	return c
}

// WithValidateOptions sets the schema options used for validation.
func (c *Config) WithValidateOptions(opts coerce.ValidateOptions) *Config {
	c.validateOptions = opts
	return c
}

// WithMetricsProvider enables dispatch metrics.
func (c *Config) WithMetricsProvider(provider o11y.MetricsProvider) *Config {
	c.metricsProvider = provider
	return c
}

// WithTracingProvider enables one span per invocation.
func (c *Config) WithTracingProvider(provider o11y.TracingProvider) *Config {
	c.tracingProvider = provider
	return c
}

// IsValid checks the configuration and the descriptors of the provider.
func (c *Config) IsValid() error {
	if c.provider == nil {
		return oops.Code(CodeInvalidConfig).Errorf("action provider is required")
	}

	var errs []error
	for _, ctrl := range c.provider.Controllers() {
		for _, a := range ctrl.Actions {
			switch {
			case a == nil:
				errs = append(errs, oops.Code(CodeInvalidConfig).
					With("controller", ctrl.Name).
					Errorf("nil action descriptor"))
			case a.Handler == nil:
				errs = append(errs, oops.Code(CodeInvalidConfig).
					With("controller", ctrl.Name).
					With("action", a.Name).
					Errorf("action has no handler"))
			case a.Kind == action.KindMessage && a.Event == "":
				errs = append(errs, oops.Code(CodeInvalidConfig).
					With("controller", ctrl.Name).
					With("action", a.Name).
					Errorf("message action requires an event name"))
			}
		}
	}
	return errors.Join(errs...)
}

// Build creates a Dispatcher from the configuration.
func (c *Config) Build() (*Dispatcher, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	coercer := c.coercer
	if coercer == nil {
		coercer = coerce.NewService()
	}

	return &Dispatcher{
		provider:        c.provider,
		logger:          logger,
		coercer:         coercer,
		classTransform:  c.classTransform,
		validate:        c.validate,
		shapeOptions:    c.shapeOptions,
		plainOptions:    c.plainOptions,
		validateOptions: c.validateOptions,
		metrics:         NewMetrics(c.metricsProvider),
		tracing:         c.tracingProvider,
	}, nil
}
