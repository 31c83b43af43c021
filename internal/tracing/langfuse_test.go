package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LANGFUSE_HOST", "https://cloud.langfuse.com")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk-lf-1")
	t.Setenv("LANGFUSE_SECRET_KEY", "sk-lf-1")

	cfg := ConfigFromEnv()
	assert.Equal(t, "https://cloud.langfuse.com", cfg.Host)
	assert.True(t, cfg.Enabled())
}

func TestSetup_DisabledWithoutKeys(t *testing.T) {
	t.Parallel()
	for _, cfg := range []Config{
		{},
		{PublicKey: "pk-lf-1"},
		{SecretKey: "sk-lf-1"},
	} {
		handler, flush, ok := Setup(cfg)
		assert.False(t, ok)
		assert.Nil(t, handler)
		assert.Nil(t, flush)
	}
}
