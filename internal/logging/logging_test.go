package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	cases := []struct {
		level, format string
		wantErr       bool
		enabled       zapcore.Level
	}{
		{level: "info", format: "json", enabled: zapcore.InfoLevel},
		{level: "debug", format: "console", enabled: zapcore.DebugLevel},
		{level: "loud", format: "json", wantErr: true},
		{level: "info", format: "xml", wantErr: true},
	}
	for _, tc := range cases {
		logger, err := New(tc.level, tc.format)
		if tc.wantErr {
			if err == nil {
				t.Errorf("New(%q, %q) expected error", tc.level, tc.format)
			}
			continue
		}
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tc.level, tc.format, err)
		}
		if !logger.Core().Enabled(tc.enabled) {
			t.Errorf("level %s not enabled", tc.enabled)
		}
		if logger.Core().Enabled(tc.enabled - 1) {
			t.Errorf("level below %s should be disabled", tc.enabled)
		}
	}
}
