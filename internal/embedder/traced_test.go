package embedder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
)

// recorder collects the callback events it sees.
type recorder struct {
	mu     sync.Mutex
	events []string
	texts  []string
	model  string
	err    error
}

func (r *recorder) handler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, in callbacks.CallbackInput) context.Context {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "start:"+string(info.Component))
			if ci := embedding.ConvCallbackInput(in); ci != nil {
				r.texts = ci.Texts
				r.model = ci.Config.Model
			}
			return ctx
		}).
		OnEndFn(func(ctx context.Context, _ *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "end")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, _ *callbacks.RunInfo, err error) context.Context {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "error")
			r.err = err
			return ctx
		}).
		Build()
}

func TestTraced_ReportsEmbeddingRun(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	e := NewTraced(NewHashEmbedder(8), "hash", "fnv", rec.handler())

	vecs, err := e.Embed(t.Context(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 8, e.Dimensions())

	assert.Equal(t, []string{"start:" + string(components.ComponentOfEmbedding), "end"}, rec.events)
	assert.Equal(t, []string{"a", "b"}, rec.texts)
	assert.Equal(t, "fnv", rec.model)
}

func TestTraced_ErrorPassesThroughUnchanged(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	upstream := fmt.Errorf("ollama: 503: %w", rag.ErrEmbeddingUnavailable)
	e := NewTraced(&stubEmbedder{dims: 4, err: upstream}, "ollama", "nomic-embed-text", rec.handler())

	_, err := e.Embed(t.Context(), []string{"x"})
	require.ErrorIs(t, err, rag.ErrEmbeddingUnavailable)
	assert.True(t, rag.IsTransient(err))
	assert.Equal(t, []string{"start:" + string(components.ComponentOfEmbedding), "error"}, rec.events)
	assert.Equal(t, upstream, rec.err)
}

func TestTraced_NoHandlersReturnsInner(t *testing.T) {
	t.Parallel()
	inner := NewHashEmbedder(8)
	assert.Same(t, inner, NewTraced(inner, "hash", "fnv"))
}

func TestLogHandler_LogsFailedCalls(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := logging.WithLogger(t.Context(), slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	e := NewTraced(&stubEmbedder{dims: 4, err: fmt.Errorf("boom: %w", rag.ErrEmbeddingUnavailable)}, "openai", "text-embedding-3-small", LogHandler())

	_, err := e.Embed(ctx, []string{"x", "y"})
	require.Error(t, err)
	out := buf.String()
	assert.Contains(t, out, `"msg":"embedding call failed"`)
	assert.Contains(t, out, `"embedder":"openai/text-embedding-3-small"`)
	assert.Contains(t, out, `"texts":2`)

	buf.Reset()
	e = NewTraced(NewHashEmbedder(4), "hash", "fnv", LogHandler())
	_, err = e.Embed(ctx, []string{"x"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"embedding call"`)
}
