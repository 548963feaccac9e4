// Package config loads the HCL configuration of an actionsocket server.
//
//	server {
//	  listen          = ":8080"
//	  path            = "/ws"
//	  ping_interval   = "30s"
//	  allowed_origins = split(",", env.ALLOWED_ORIGINS)
//	}
//
//	dispatch {
//	  validate      = true
//	  exclude_paths = ["password"]
//	}
//
//	log {
//	  level = "info"
//	}
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Defaults of values the wsserver and dispatch packages have no opinion on.
const (
	DefaultListen         = ":8080"
	DefaultShutdownGrace  = 10 * time.Second
	DefaultMetricsBackend = "none"
	DefaultReportInterval = time.Minute
)

// ServerBlock configures the WebSocket listener.
type ServerBlock struct {
	Listen         string   `hcl:"listen,optional"`
	Path           string   `hcl:"path,optional"`
	QueueSize      int      `hcl:"queue_size,optional"`
	PingInterval   string   `hcl:"ping_interval,optional"`
	WriteTimeout   string   `hcl:"write_timeout,optional"`
	ShutdownGrace  string   `hcl:"shutdown_grace,optional"`
	ReadLimit      int64    `hcl:"read_limit,optional"`
	AllowedOrigins []string `hcl:"allowed_origins,optional"`

	DefRange hcl.Range `hcl:",def_range"`
}

// DispatchBlock configures parameter resolution and result routing. Unset
// booleans keep the dispatcher defaults.
type DispatchBlock struct {
	ClassTransform               *bool    `hcl:"class_transform,optional"`
	Validate                     *bool    `hcl:"validate,optional"`
	ExcludePaths                 []string `hcl:"exclude_paths,optional"`
	DisallowAdditionalProperties bool     `hcl:"disallow_additional_properties,optional"`
	RequireAllFields             bool     `hcl:"require_all_fields,optional"`
	DisallowUnknownFields        bool     `hcl:"disallow_unknown_fields,optional"`

	DefRange hcl.Range `hcl:",def_range"`
}

// LogBlock configures logging.
type LogBlock struct {
	Level string `hcl:"level,optional"`

	DefRange hcl.Range `hcl:",def_range"`
}

// MetricsBlock selects where metrics go: "none", "memory" (periodically
// logged) or "otel" (the global OpenTelemetry providers).
type MetricsBlock struct {
	Backend        string `hcl:"backend,optional"`
	ReportInterval string `hcl:"report_interval,optional"`
	ServiceName    string `hcl:"service_name,optional"`

	DefRange hcl.Range `hcl:",def_range"`
}

type fileContent struct {
	Server   []*ServerBlock   `hcl:"server,block"`
	Dispatch []*DispatchBlock `hcl:"dispatch,block"`
	Log      []*LogBlock      `hcl:"log,block"`
	Metrics  []*MetricsBlock  `hcl:"metrics,block"`
}

// Config is a loaded configuration. Every block is optional; missing blocks
// are empty.
type Config struct {
	Server   ServerBlock
	Dispatch DispatchBlock
	Log      LogBlock
	Metrics  MetricsBlock

	// Parsed durations and level, valid after Build.
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ShutdownGrace  time.Duration
	ReportInterval time.Duration
	LogLevel       zapcore.Level
}

// ConfigBuilder collects sources and builds a Config from them.
type ConfigBuilder struct {
	logger  *zap.Logger
	sources []any
	environ []string
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		logger: zap.NewNop(),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	if logger != nil {
		cb.logger = logger
	}
	return cb
}

// WithSources adds configuration sources, see ParseConfigFiles.
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

// WithEnv replaces the env object seen by expressions. Defaults to the
// process environment.
func (cb *ConfigBuilder) WithEnv(env map[string]string) *ConfigBuilder {
	cb.environ = make([]string, 0, len(env))
	for k, v := range env {
		cb.environ = append(cb.environ, k+"="+v)
	}
	return cb
}

// Build parses and decodes every source. Blocks may be spread over several
// files but each block type may appear only once.
func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	bodies, diags := ParseConfigFiles(cb.sources...)
	if diags.HasErrors() {
		return nil, diags
	}

	env := EnvObject()
	if cb.environ != nil {
		env = envObject(cb.environ)
	}
	evalCtx := &hcl.EvalContext{
		Functions: Functions(),
		Variables: map[string]cty.Value{"env": env},
	}

	var content fileContent
	for _, body := range bodies {
		var fc fileContent
		diags = diags.Extend(gohcl.DecodeBody(body, evalCtx, &fc))
		content.Server = append(content.Server, fc.Server...)
		content.Dispatch = append(content.Dispatch, fc.Dispatch...)
		content.Log = append(content.Log, fc.Log...)
		content.Metrics = append(content.Metrics, fc.Metrics...)
	}
	if diags.HasErrors() {
		return nil, diags
	}

	config := &Config{}
	if block, moreDiags := single("server", content.Server, func(b *ServerBlock) hcl.Range { return b.DefRange }); block != nil {
		config.Server = *block
	} else {
		diags = diags.Extend(moreDiags)
	}
	if block, moreDiags := single("dispatch", content.Dispatch, func(b *DispatchBlock) hcl.Range { return b.DefRange }); block != nil {
		config.Dispatch = *block
	} else {
		diags = diags.Extend(moreDiags)
	}
	if block, moreDiags := single("log", content.Log, func(b *LogBlock) hcl.Range { return b.DefRange }); block != nil {
		config.Log = *block
	} else {
		diags = diags.Extend(moreDiags)
	}
	if block, moreDiags := single("metrics", content.Metrics, func(b *MetricsBlock) hcl.Range { return b.DefRange }); block != nil {
		config.Metrics = *block
	} else {
		diags = diags.Extend(moreDiags)
	}
	if diags.HasErrors() {
		return nil, diags
	}

	diags = diags.Extend(config.resolve())
	if diags.HasErrors() {
		return nil, diags
	}

	cb.logger.Debug("Config built successfully",
		zap.Int("sources", len(cb.sources)),
		zap.String("listen", config.Server.Listen),
	)
	return config, diags
}

// single returns the only block of a type. With several blocks it returns
// nil and a diagnostic pointing at the second one.
func single[T any](name string, blocks []*T, defRange func(*T) hcl.Range) (*T, hcl.Diagnostics) {
	switch len(blocks) {
	case 0:
		return nil, nil
	case 1:
		return blocks[0], nil
	default:
		subject := defRange(blocks[1])
		return nil, hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  fmt.Sprintf("Duplicate %s block", name),
			Detail:   fmt.Sprintf("Only one %s block is allowed, the first is at %s", name, defRange(blocks[0])),
			Subject:  &subject,
		}}
	}
}

// resolve fills defaults and parses durations and the log level.
func (c *Config) resolve() hcl.Diagnostics {
	var diags hcl.Diagnostics

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = DefaultMetricsBackend
	}
	if c.Metrics.ServiceName == "" {
		c.Metrics.ServiceName = "actionsocket"
	}

	c.PingInterval, diags = duration(diags, "ping_interval", c.Server.PingInterval, -1, c.Server.DefRange)
	c.WriteTimeout, diags = duration(diags, "write_timeout", c.Server.WriteTimeout, 0, c.Server.DefRange)
	c.ShutdownGrace, diags = duration(diags, "shutdown_grace", c.Server.ShutdownGrace, DefaultShutdownGrace, c.Server.DefRange)
	c.ReportInterval, diags = duration(diags, "report_interval", c.Metrics.ReportInterval, DefaultReportInterval, c.Metrics.DefRange)

	if c.Server.QueueSize < 0 {
		diags = diags.Append(invalid("queue_size", "must not be negative", c.Server.DefRange))
	}
	if c.Server.ReadLimit < 0 {
		diags = diags.Append(invalid("read_limit", "must not be negative", c.Server.DefRange))
	}

	switch c.Metrics.Backend {
	case "none", "memory", "otel":
	default:
		diags = diags.Append(invalid("backend", fmt.Sprintf("unknown metrics backend %q, expected none, memory or otel", c.Metrics.Backend), c.Metrics.DefRange))
	}

	c.LogLevel = zapcore.InfoLevel
	if c.Log.Level != "" {
		level, err := zapcore.ParseLevel(c.Log.Level)
		if err != nil {
			diags = diags.Append(invalid("level", err.Error(), c.Log.DefRange))
		}
		c.LogLevel = level
	}

	return diags
}

// duration parses value, returning fallback when it is empty. A negative
// fallback means unset.
func duration(diags hcl.Diagnostics, name, value string, fallback time.Duration, subject hcl.Range) (time.Duration, hcl.Diagnostics) {
	if value == "" {
		return fallback, diags
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback, diags.Append(invalid(name, err.Error(), subject))
	}
	if d < 0 {
		return fallback, diags.Append(invalid(name, "must not be negative", subject))
	}
	return d, diags
}

func invalid(name, detail string, subject hcl.Range) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  fmt.Sprintf("Invalid %s", name),
		Detail:   detail,
		Subject:  &subject,
	}
}
