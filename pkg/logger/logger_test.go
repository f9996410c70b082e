package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInfoJ_WritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	prev := L()
	SetOutput(zapcore.AddSync(&buf))
	defer Replace(prev)

	InfoJ("beacon_verify", map[string]any{"round": 7, "result": "ok"})

	line := strings.TrimSpace(buf.String())
	var got map[string]any
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("not json: %q: %v", line, err)
	}
	if got["msg"] != "beacon_verify" || got["result"] != "ok" {
		t.Fatalf("unexpected entry: %v", got)
	}
	if got["round"].(float64) != 7 {
		t.Fatalf("round field: %v", got["round"])
	}
}

func TestSetLevel_FiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	prev := L()
	SetOutput(zapcore.AddSync(&buf))
	defer Replace(prev)
	defer func() { _ = SetLevel("info") }()

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	Info("hidden")
	Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filter broken: %q", buf.String())
	}
	if err := SetLevel("loud"); err == nil {
		t.Fatalf("want error for unknown level")
	}
}
