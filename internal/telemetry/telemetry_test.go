package telemetry

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerFallsBackToInfoOnBadLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, runID := NewLogger(LoggerConfig{Level: "not-a-level", Output: &buf})
	require.NotEmpty(t, runID)
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestNewLoggerStampsRunIDOnEveryLine(t *testing.T) {
	var buf bytes.Buffer
	logger, runID := NewLogger(LoggerConfig{Level: "debug", Format: LogFormatJSON, Output: &buf})
	logger.Info().Msg("hello")
	require.Contains(t, buf.String(), `"run":"`+runID+`"`)
}

func TestNewLoggerTextFormatUsesConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(LoggerConfig{Level: "info", Format: LogFormatText, Output: &buf})
	logger.Info().Msg("hello")
	require.Contains(t, buf.String(), "hello")
	require.False(t, strings.HasPrefix(buf.String(), "{"), "text format must not emit raw JSON")
}

func TestNewMetricsRegistersAllCollectorsUnderZoneLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, 3)
	require.NoError(t, err)
	require.NotNil(t, m.Iteration)
	require.NotNil(t, m.SolverErrors)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 7)
}

func TestNewMetricsPropagatesDuplicateRegistrationError(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg, 1)
	require.NoError(t, err)

	_, err = NewMetrics(reg, 1)
	require.Error(t, err, "registering the same zone twice against the same registry must fail")
}
