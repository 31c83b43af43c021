// Package audit writes the structured audit trail: one entry per CLI command
// invocation and one per admin mutation of a source.
//
// Secrets are logged as presence or absence only, never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/54b3r/semsearch/internal/rag"
)

// Action names an admin mutation of a source.
type Action string

const (
	ActionRegister Action = "register"
	ActionRemove   Action = "remove"
	ActionReindex  Action = "reindex"
)

// LogSourceChange records an admin mutation of a source and its outcome
// (nil err is "ok", otherwise the external error code). location must
// already be redacted; pass "" when the action has none.
func LogSourceChange(ctx context.Context, log *slog.Logger, action Action, sourceID, location string, err error) {
	attrs := []slog.Attr{
		slog.String("action", string(action)),
		slog.String("source_id", sourceID),
		slog.String("outcome", string(rag.CodeOf(err))),
	}
	if location != "" {
		attrs = append(attrs, slog.String("location", location))
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
	}
	log.LogAttrs(ctx, level, "audit: source change", attrs...)
}

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	// key is the environment variable name.
	key string
	// secret indicates the value should be redacted to presence/absence.
	secret bool
}

// auditKeys is the ordered list of env vars included in every audit log entry.
var auditKeys = []auditEntry{
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"EMBEDDING_DIMENSIONS", false},
	{"EMBEDDING_ENDPOINT", false},
	{"EMBEDDING_API_KEY", true},
	{"OLLAMA_HOST", false},
	{"OPENAI_API_KEY", true},
	{"AZURE_OPENAI_API_KEY", true},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"GOOGLE_API_KEY", true},
	{"INDEX_BACKEND", false},
	{"QDRANT_HOST", false},
	{"QDRANT_PORT", false},
	{"QDRANT_COLLECTION", false},
	{"QDRANT_API_KEY", true},
	{"SEMSEARCH_DB", false},
	{"SEMSEARCH_API_KEY", true},
	{"SEMSEARCH_ADMIN_KEY", true},
	{"REINDEX_TIMEOUT", false},
	{"WATCH_ENABLED", false},
	{"MCP_ALLOW_REINDEX", false},
	{"LANGFUSE_HOST", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
}

// secretEnvKeys is derived from auditKeys so the two never drift.
var secretEnvKeys = func() map[string]bool {
	m := make(map[string]bool)
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	return m
}()

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file source, and sanitised environment.
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}

	for _, entry := range auditKeys {
		attrs = append(attrs, slog.String(entry.key, SanitiseKey(entry.key, os.Getenv(entry.key))))
	}

	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns "set" or "unset" for known secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	return valOrUnset(value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	// Redact home directory for privacy in logs.
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
