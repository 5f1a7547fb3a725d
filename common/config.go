package common

import (
	"os"
	"strings"
)

const (
	defaultServiceName = "nats-exchange-flow"
	defaultEnvironment = "local"
	defaultVersion     = "dev"
)

type OtlpConfig interface {
	Debug() bool
	Environment() string
	Dsn() string
	ServiceName() string
	Version() string
	Key() string
}

type DevOtlpConfig struct {
	debug       bool
	dsn         string
	serviceName string
	environment string
	version     string
	key         string
}

// NewDevOtlpConfig reads the logging and tracing settings from the environment.
// An empty DSN keeps trace export disabled.
func NewDevOtlpConfig() *DevOtlpConfig {
	cfg := &DevOtlpConfig{
		debug:       strings.ToLower(os.Getenv("DEBUG")) == "true",
		dsn:         os.Getenv("DSN"),
		serviceName: envOrDefault("SERVICE_NAME", defaultServiceName),
		environment: envOrDefault("ENVIRONMENT", defaultEnvironment),
		version:     envOrDefault("VERSION", defaultVersion),
		key:         os.Getenv("KEY"),
	}
	return cfg
}

func NewStaticOtlpConfig(serviceName string, debug bool) *DevOtlpConfig {
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	return &DevOtlpConfig{
		debug:       debug,
		serviceName: serviceName,
		environment: defaultEnvironment,
		version:     defaultVersion,
	}
}

func (d *DevOtlpConfig) WithDsn(dsn string) *DevOtlpConfig {
	d.dsn = dsn
	return d
}

func (d *DevOtlpConfig) Debug() bool {
	return d.debug
}

func (d *DevOtlpConfig) Environment() string {
	return d.environment
}

func (d *DevOtlpConfig) Dsn() string {
	return d.dsn
}

func (d *DevOtlpConfig) ServiceName() string {
	return d.serviceName
}

func (d *DevOtlpConfig) Version() string {
	return d.version
}

func (d *DevOtlpConfig) Key() string {
	return d.key
}

func envOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

var _ OtlpConfig = (*DevOtlpConfig)(nil)
