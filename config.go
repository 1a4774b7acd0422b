package dbcontext

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Driver selects the database/sql driver used to reach PostgreSQL.
type Driver string

const (
	DriverPG  Driver = "pgdriver" // bun's pgdriver (default)
	DriverPGX Driver = "pgx"      // jackc/pgx stdlib
)

// DefaultSchema is used when Config.Schema is empty.
const DefaultSchema = "public"

// Config holds the connection descriptor and behaviour of an execution context
type Config struct {
	// Connection
	ConnectionString string // PostgreSQL connection string (required)
	Schema           string // Schema qualifying every table (default: public)
	Driver           Driver // Driver to use (default: pgdriver)

	// Pool settings, as provided by database/sql
	MaxOpenConns    int           // Max open connections (default: 25)
	MaxIdleConns    int           // Max idle connections (default: 5)
	ConnMaxLifetime time.Duration // Max connection lifetime (default: 5m)
	ConnMaxIdleTime time.Duration // Max idle time (default: 1m)

	// Timeouts
	DialTimeout  time.Duration // Connection dial timeout (default: 5s)
	ReadTimeout  time.Duration // Read timeout (default: 30s)
	WriteTimeout time.Duration // Write timeout (default: 30s)

	// InlineLiterals renders arguments into the statement text with Literal
	// before execution instead of handing them to the driver formatter.
	InlineLiterals bool

	// Observability (all optional)
	Logger          *slog.Logger          // Structured logger
	LogQueries      bool                  // Log all queries
	LogSlowQueries  time.Duration         // Log queries slower than this (0 = disabled)
	MetricsRegistry prometheus.Registerer // Prometheus registry for metrics
	Tracer          trace.Tracer          // OpenTelemetry tracer
}

// DefaultConfig returns sensible defaults
func DefaultConfig(connectionString, schema string) Config {
	return Config{
		ConnectionString: connectionString,
		Schema:           schema,
		Driver:           DriverPG,
		MaxOpenConns:     25,
		MaxIdleConns:     5,
		ConnMaxLifetime:  5 * time.Minute,
		ConnMaxIdleTime:  1 * time.Minute,
		DialTimeout:      5 * time.Second,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
	}
}

// applyDefaults fills in zero values with defaults
func (c *Config) applyDefaults() {
	if c.Schema == "" {
		c.Schema = DefaultSchema
	}
	if c.Driver == "" {
		c.Driver = DriverPG
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 1 * time.Minute
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
}

// validate reports descriptor problems before any network I/O
func (c *Config) validate() error {
	if c.ConnectionString == "" {
		return &ConfigurationError{Name: "ConnectionString", Reason: "connection string is required"}
	}
	switch c.Driver {
	case DriverPG, DriverPGX:
	default:
		return &ConfigurationError{Name: "Driver", Reason: "unsupported driver " + string(c.Driver)}
	}
	return nil
}

// WithSchema sets the schema qualifying every table
func (c Config) WithSchema(schema string) Config {
	c.Schema = schema
	return c
}

// WithDriver selects the database/sql driver
func (c Config) WithDriver(driver Driver) Config {
	c.Driver = driver
	return c
}

// WithInlineLiterals renders statement arguments as SQL literals
func (c Config) WithInlineLiterals() Config {
	c.InlineLiterals = true
	return c
}

// WithLogger enables query logging
func (c Config) WithLogger(logger *slog.Logger) Config {
	c.Logger = logger
	c.LogQueries = true
	return c
}

// WithSlowQueryLog logs queries slower than the threshold
func (c Config) WithSlowQueryLog(threshold time.Duration) Config {
	c.LogSlowQueries = threshold
	return c
}

// WithMetrics enables Prometheus metrics
func (c Config) WithMetrics(registry prometheus.Registerer) Config {
	c.MetricsRegistry = registry
	return c
}

// WithTracing enables OpenTelemetry tracing
func (c Config) WithTracing(tracer trace.Tracer) Config {
	c.Tracer = tracer
	return c
}
