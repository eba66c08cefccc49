package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/shared-redis/pkg/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}

	if cfg.Pretty != false {
		t.Error("Expected default pretty to be false")
	}
}

func TestConfigFrom(t *testing.T) {
	storeCfg := config.Default()
	storeCfg.LogLevel = "debug"
	storeCfg.LogPretty = true

	cfg := ConfigFrom(&storeCfg)
	if cfg.Level != LevelDebug {
		t.Errorf("Expected level debug, got %s", cfg.Level)
	}
	if !cfg.Pretty {
		t.Error("Expected pretty output")
	}

	if got := ConfigFrom(nil); got.Level != LevelInfo {
		t.Errorf("Expected default level for nil config, got %s", got.Level)
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name    string
		level   LogLevel
		testMsg string
	}{
		{name: "info_level", level: LevelInfo, testMsg: "test info message"},
		{name: "debug_level", level: LevelDebug, testMsg: "test debug message"},
		{name: "warn_level", level: LevelWarn, testMsg: "test warn message"},
		{name: "error_level", level: LevelError, testMsg: "test error message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			switch tt.level {
			case LevelDebug:
				logger.Debug().Msg(tt.testMsg)
			case LevelInfo:
				logger.Info().Msg(tt.testMsg)
			case LevelWarn:
				logger.Warn().Msg(tt.testMsg)
			case LevelError:
				logger.Error().Msg(tt.testMsg)
			}

			if !strings.Contains(buf.String(), tt.testMsg) {
				t.Errorf("Expected output to contain %q, got %q", tt.testMsg, buf.String())
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if result := parseLevel(tt.input); result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("cache")
	logger.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, `"component":"cache"`) {
		t.Errorf("Expected output to contain component field, got %q", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("test")
	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Error("Messages below warn should be filtered out")
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Error("Warn and error messages should be included")
	}
}
