package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/mikeboe/research-crew/pkg/store"
)

func TestRunLogHandler(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	run, _ := st.CreateRun(ctx, "topic", nil)

	var console bytes.Buffer
	base := slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewRunLogHandler(st, run.ID, base))

	logger.Debug("debug only in the run log", "step", 1)
	logger.With("task", "research").WithGroup("tool").Info("Search done", "query", "ai", "error", errors.New("boom"))

	logs, err := st.RunLogs(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2", len(logs))
	}
	if logs[0].Level != "DEBUG" {
		t.Errorf("level = %s", logs[0].Level)
	}

	var meta map[string]any
	if err := json.Unmarshal(logs[1].Metadata, &meta); err != nil {
		t.Fatal(err)
	}
	if meta["task"] != "research" || meta["tool.query"] != "ai" || meta["tool.error"] != "boom" {
		t.Errorf("metadata = %v", meta)
	}

	out := console.String()
	if strings.Contains(out, "debug only") {
		t.Error("debug record reached the info-level console handler")
	}
	if !strings.Contains(out, "Search done") || !strings.Contains(out, run.ID.String()) {
		t.Errorf("console output = %q", out)
	}
}
