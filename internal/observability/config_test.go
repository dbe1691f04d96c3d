package observability

import (
	"testing"

	"github.com/smallbiznis/feeledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDerivesFromAppConfig(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:           " ",
		AppVersion:        "1.2.0",
		Environment:       "production",
		LogLevel:          "WARN",
		OTLPEndpoint:      "collector:4318",
		OTLPProtocol:      "HTTP",
		OtelEnabled:       true,
		OtelSamplingRatio: 3,
	})

	assert.Equal(t, "feeledger", cfg.ServiceName)
	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, "collector:4318", cfg.OtelExporterEndpoint)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())
}

func TestDebug(t *testing.T) {
	assert.True(t, Config{LogLevel: "debug", Environment: "production"}.Debug())
	assert.True(t, Config{LogLevel: "info", Environment: "Local"}.Debug())
	assert.False(t, Config{LogLevel: "info", Environment: "staging"}.Debug())
}
