package logging

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitialize_SilentWithoutLevel(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger should be silent when no level is configured")
	}
}

func TestInitialize_FromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")
	defer SetLogger(nil)

	if err := InitializeFromEnv(); err != nil {
		t.Fatalf("InitializeFromEnv() error = %v", err)
	}
	if !GetLogger().Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn level should be enabled")
	}
	if GetLogger().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info level should be disabled at warn")
	}
}

func TestLogProbe_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogProbe("192.168.0.37", true, 12*time.Millisecond, nil)
	LogProbe("192.168.0.38", false, 400*time.Millisecond, errors.New("timeout"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Errorf("confirmed probe level = %v, want info", entries[0].Level)
	}
	if entries[1].Level != zapcore.DebugLevel {
		t.Errorf("absent probe level = %v, want debug", entries[1].Level)
	}
	if got := entries[1].ContextMap()["address"]; got != "192.168.0.38" {
		t.Errorf("address field = %v, want 192.168.0.38", got)
	}
}

func TestLogOTATransition_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogOTATransition("pending", "counting", zap.Int("status", 1))

	entries := logs.FilterMessage("OTA session transition").All()
	if len(entries) != 1 {
		t.Fatalf("got %d transition entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["from"] != "pending" || ctx["to"] != "counting" {
		t.Errorf("transition fields = %v", ctx)
	}
	if ctx["status"] != int64(1) {
		t.Errorf("status field = %v (%T), want 1", ctx["status"], ctx["status"])
	}
}
