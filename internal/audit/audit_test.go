package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/54b3r/semsearch/internal/rag"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("OPENAI_API_KEY", "sk-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("OPENAI_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("INDEX_BACKEND", "qdrant"); got != "qdrant" {
		t.Errorf("expected 'qdrant', got %q", got)
	}
	if got := SanitiseKey("INDEX_BACKEND", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()
	if got := presence("something"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.semsearch/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.semsearch/config.yaml" {
			t.Errorf("expected '~/.semsearch/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("SEMSEARCH_ADMIN_KEY", "super-secret-admin")
	t.Setenv("INDEX_BACKEND", "sqlite")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(t.Context(), log, "serve", "")

	out := buf.String()
	if strings.Contains(out, "super-secret-admin") {
		t.Fatalf("secret value leaked into audit log: %s", out)
	}
	if !strings.Contains(out, `"SEMSEARCH_ADMIN_KEY":"set"`) {
		t.Errorf("expected admin key presence in audit log: %s", out)
	}
	if !strings.Contains(out, `"INDEX_BACKEND":"sqlite"`) {
		t.Errorf("expected INDEX_BACKEND value in audit log: %s", out)
	}
	if !strings.Contains(out, `"config_file":"none"`) {
		t.Errorf("expected config_file none: %s", out)
	}
}

func TestLogSourceChange_Success(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogSourceChange(t.Context(), log, ActionRegister, "handbook", "data:…", nil)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode audit entry: %v", err)
	}
	want := map[string]any{
		"level":     "INFO",
		"action":    "register",
		"source_id": "handbook",
		"outcome":   "ok",
		"location":  "data:…",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestLogSourceChange_FailureUsesErrorCode(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	err := fmt.Errorf("registry: %w: handbook", rag.ErrAlreadyExists)
	LogSourceChange(t.Context(), log, ActionRemove, "handbook", "", err)

	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) {
		t.Errorf("expected WARN level: %s", out)
	}
	if !strings.Contains(out, `"outcome":"already-exists"`) {
		t.Errorf("expected already-exists outcome: %s", out)
	}
	if strings.Contains(out, `"location"`) {
		t.Errorf("empty location must be omitted: %s", out)
	}
}
