package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lex-rag/internal/config"
)

func TestSetupWriter_JSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	SetupWriter(config.LogConfig{Level: "warn"}, &buf)

	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "shown" || entry["component"] != "test" {
		t.Errorf("unexpected entry %v", entry)
	}
	if _, ok := entry["caller"]; !ok {
		t.Errorf("expected caller field in %v", entry)
	}
}

func TestSetupWriter_UnknownLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	SetupWriter(config.LogConfig{Level: "chatty"}, &buf)

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("global level = %v, want info", zerolog.GlobalLevel())
	}
	if !bytes.Contains(buf.Bytes(), []byte("Unknown log level")) {
		t.Errorf("expected a warning about the level, got %q", buf.String())
	}
}

func TestSetupWriter_Pretty(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	for _, pretty := range []bool{true, false} {
		var buf bytes.Buffer
		SetupWriter(config.LogConfig{Level: "info", Pretty: &pretty}, &buf)
		log.Info().Msg("hello")

		isJSON := json.Valid(bytes.TrimSpace(buf.Bytes()))
		if isJSON == pretty {
			t.Errorf("pretty=%v produced %q", pretty, buf.String())
		}
	}
}
