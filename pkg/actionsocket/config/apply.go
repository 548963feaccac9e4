package config

import (
	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
	"github.com/tsarna/actionsocket/pkg/actionsocket/dispatch"
	"github.com/tsarna/actionsocket/pkg/actionsocket/o11y"
	"github.com/tsarna/actionsocket/pkg/actionsocket/wsserver"
	"go.uber.org/zap"
)

// ServerConfig returns a WebSocket server configuration with the server
// block applied. Unset values keep the wsserver defaults.
func (c *Config) ServerConfig(logger *zap.Logger, metrics o11y.MetricsProvider) *wsserver.ServerConfig {
	sc := wsserver.NewServerConfig().
		WithLogger(logger).
		WithPath(c.Server.Path).
		WithQueueSize(c.Server.QueueSize).
		WithPingInterval(c.PingInterval).
		WithWriteTimeout(c.WriteTimeout).
		WithReadLimit(c.Server.ReadLimit).
		WithMetricsProvider(metrics)

	if len(c.Server.AllowedOrigins) > 0 {
		sc.WithAllowedOrigins(c.Server.AllowedOrigins...)
	}
	return sc
}

// ApplyDispatch applies the dispatch block to dc.
func (c *Config) ApplyDispatch(dc *dispatch.Config) *dispatch.Config {
	d := c.Dispatch
	if d.ClassTransform != nil {
		dc.WithClassTransform(*d.ClassTransform)
	}
	if d.Validate != nil {
		dc.WithValidation(*d.Validate)
	}
	return dc.
		WithPlainOptions(coerce.PlainOptions{ExcludePaths: d.ExcludePaths}).
		WithShapeOptions(coerce.ShapeOptions{DisallowUnknownFields: d.DisallowUnknownFields}).
		WithValidateOptions(coerce.ValidateOptions{
			DisallowAdditionalProperties: d.DisallowAdditionalProperties,
			RequireAllFields:             d.RequireAllFields,
		})
}
